package inbound

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/thomasrutger/Connector/core"
)

const catalogRequestType = "dspace:CatalogRequestMessage"

type CatalogRequest struct {
	Type   string          `json:"@type"`
	Filter json.RawMessage `json:"filter,omitempty"`
}

// CatalogProvider answers catalog requests. Dataset discovery lives outside
// the connector core; providers plug it in here.
type CatalogProvider interface {
	Catalog(ctx context.Context, caller core.Claims, req CatalogRequest) (any, error)
}

type Catalog struct {
	Type          string `json:"@type"`
	ParticipantID string `json:"dspace:participantId"`
	Datasets      []any  `json:"dcat:dataset"`
}

// EmptyCatalog answers every request with a catalog that lists no datasets.
type EmptyCatalog struct {
	ParticipantID string
}

func (c EmptyCatalog) Catalog(context.Context, core.Claims, CatalogRequest) (any, error) {
	return Catalog{Type: "dcat:Catalog", ParticipantID: c.ParticipantID, Datasets: []any{}}, nil
}

func DecodeCatalogRequest(raw []byte) (CatalogRequest, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return CatalogRequest{Type: catalogRequestType}, nil
	}
	var req CatalogRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return CatalogRequest{}, inboundMalformed("inbound: catalog request is not valid json", nil)
	}
	req.Type = strings.TrimSpace(req.Type)
	if req.Type == "" {
		req.Type = catalogRequestType
	}
	if req.Type != catalogRequestType && req.Type != strings.TrimPrefix(catalogRequestType, "dspace:") {
		return CatalogRequest{}, inboundMalformed(
			"inbound: unexpected catalog request type",
			map[string]any{"message_type": req.Type},
		)
	}
	return req, nil
}
