package sqlstore

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/thomasrutger/Connector/core"
	"github.com/uptrace/bun"
)

// ProcessColumns are the columns shared by negotiation and transfer rows.
type ProcessColumns struct {
	ID                  string    `bun:"id,pk"`
	CorrelationID       string    `bun:"correlation_id,notnull"`
	Role                string    `bun:"role,notnull"`
	CounterpartyID      string    `bun:"counterparty_id,notnull"`
	CounterpartyAddress string    `bun:"counterparty_address,notnull"`
	Protocol            string    `bun:"protocol,notnull"`
	State               string    `bun:"state,notnull"`
	StateTimestamp      time.Time `bun:"state_timestamp,notnull"`
	RetryCount          int       `bun:"retry_count,notnull"`
	ErrorDetail         string    `bun:"error_detail,notnull"`
	PendingID           string    `bun:"pending_id,nullzero"`
	Pending             string    `bun:"pending,nullzero"`
	NextAttemptAt       time.Time `bun:"next_attempt_at,nullzero"`
	Version             int64     `bun:"version,notnull"`
	CreatedAt           time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt           time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type negotiationRecord struct {
	bun.BaseModel `bun:"table:connector_negotiations,alias:cn"`

	ProcessColumns
	Offer     string `bun:"offer,nullzero"`
	Agreement string `bun:"agreement,nullzero"`
}

type transferRecord struct {
	bun.BaseModel `bun:"table:connector_transfers,alias:ct"`

	ProcessColumns
	AgreementID string `bun:"agreement_id,notnull"`
	DataAddress string `bun:"data_address,nullzero"`
}

func (r *negotiationRecord) columns() *ProcessColumns {
	return &r.ProcessColumns
}

func (r *negotiationRecord) fromDomain(record core.ContractNegotiation) error {
	cols, err := columnsFromBase(record.ProcessBase, string(record.State))
	if err != nil {
		return err
	}
	r.ProcessColumns = cols
	r.Offer = string(record.Offer)
	r.Agreement = string(record.Agreement)
	return nil
}

func (r *negotiationRecord) toDomain() (core.ContractNegotiation, error) {
	base, err := r.ProcessColumns.toBase()
	if err != nil {
		return core.ContractNegotiation{}, err
	}
	return core.ContractNegotiation{
		ProcessBase: base,
		State:       core.NegotiationState(r.State),
		Offer:       rawOrNil(r.Offer),
		Agreement:   rawOrNil(r.Agreement),
	}, nil
}

func (r *transferRecord) columns() *ProcessColumns {
	return &r.ProcessColumns
}

func (r *transferRecord) fromDomain(record core.TransferProcess) error {
	cols, err := columnsFromBase(record.ProcessBase, string(record.State))
	if err != nil {
		return err
	}
	r.ProcessColumns = cols
	r.AgreementID = strings.TrimSpace(record.AgreementID)
	r.DataAddress = string(record.DataAddress)
	return nil
}

func (r *transferRecord) toDomain() (core.TransferProcess, error) {
	base, err := r.ProcessColumns.toBase()
	if err != nil {
		return core.TransferProcess{}, err
	}
	return core.TransferProcess{
		ProcessBase: base,
		State:       core.TransferState(r.State),
		AgreementID: r.AgreementID,
		DataAddress: rawOrNil(r.DataAddress),
	}, nil
}

func columnsFromBase(base core.ProcessBase, state string) (ProcessColumns, error) {
	cols := ProcessColumns{
		ID:                  strings.TrimSpace(base.ID),
		CorrelationID:       strings.TrimSpace(base.CorrelationID),
		Role:                string(base.Role),
		CounterpartyID:      base.CounterpartyID,
		CounterpartyAddress: base.CounterpartyAddress,
		Protocol:            base.Protocol,
		State:               state,
		StateTimestamp:      base.StateTimestamp.UTC().Truncate(time.Microsecond),
		RetryCount:          base.RetryCount,
		ErrorDetail:         base.ErrorDetail,
		NextAttemptAt:       utcOrZero(base.NextAttemptAt),
		Version:             base.Version,
		CreatedAt:           base.CreatedAt.UTC().Truncate(time.Microsecond),
		UpdatedAt:           base.UpdatedAt.UTC().Truncate(time.Microsecond),
	}
	if base.Pending != nil {
		raw, err := json.Marshal(base.Pending)
		if err != nil {
			return ProcessColumns{}, fmt.Errorf("sqlstore: encode pending message: %w", err)
		}
		cols.PendingID = base.Pending.ID
		cols.Pending = string(raw)
	}
	return cols, nil
}

func (c ProcessColumns) toBase() (core.ProcessBase, error) {
	base := core.ProcessBase{
		ID:                  c.ID,
		CorrelationID:       c.CorrelationID,
		Role:                core.Role(c.Role),
		CounterpartyID:      c.CounterpartyID,
		CounterpartyAddress: c.CounterpartyAddress,
		Protocol:            c.Protocol,
		StateTimestamp:      c.StateTimestamp.UTC(),
		RetryCount:          c.RetryCount,
		ErrorDetail:         c.ErrorDetail,
		NextAttemptAt:       utcOrZero(c.NextAttemptAt),
		Version:             c.Version,
		CreatedAt:           c.CreatedAt.UTC(),
		UpdatedAt:           c.UpdatedAt.UTC(),
	}
	if strings.TrimSpace(c.Pending) != "" {
		var pending core.OutboundMessage
		if err := json.Unmarshal([]byte(c.Pending), &pending); err != nil {
			return core.ProcessBase{}, fmt.Errorf("sqlstore: decode pending message of %s: %w", c.ID, err)
		}
		base.Pending = &pending
	}
	return base, nil
}

func rawOrNil(value string) json.RawMessage {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return json.RawMessage(value)
}

// utcOrZero normalizes to UTC at microsecond precision, which both dialects
// store losslessly.
func utcOrZero(value time.Time) time.Time {
	if value.IsZero() {
		return time.Time{}
	}
	return value.UTC().Truncate(time.Microsecond)
}
