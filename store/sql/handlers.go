package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// processRowHandlers wires a process row type into go-repository-bun. Rows
// are keyed by their uuid process id.
func processRowHandlers[R any, M any, PM processRow[R, M]]() repository.ModelHandlers[PM] {
	return repository.ModelHandlers[PM]{
		NewRecord: func() PM {
			return PM(new(M))
		},
		GetID: func(record PM) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.columns().ID)
		},
		SetID: func(record PM, id uuid.UUID) {
			if record == nil {
				return
			}
			record.columns().ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record PM) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.columns().ID)
		},
	}
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
