package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/thomasrutger/Connector/core"
	"github.com/uptrace/bun"
)

type RepositoryFactory struct {
	db *bun.DB

	negotiationStore *NegotiationStore
	transferStore    *TransferStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

// BuildStores accepts a *bun.DB or anything exposing DB() *bun.DB, such as a
// go-persistence-bun client.
func (f *RepositoryFactory) BuildStores(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.negotiationStore != nil && f.transferStore != nil {
		return nil
	}
	negotiations, err := NewNegotiationStore(f.db)
	if err != nil {
		return err
	}
	transfers, err := NewTransferStore(f.db)
	if err != nil {
		return err
	}
	f.negotiationStore = negotiations
	f.transferStore = transfers
	return nil
}

func (f *RepositoryFactory) NegotiationStore() core.NegotiationStore {
	if f == nil || f.negotiationStore == nil {
		return nil
	}
	return f.negotiationStore
}

func (f *RepositoryFactory) TransferStore() core.TransferStore {
	if f == nil || f.transferStore == nil {
		return nil
	}
	return f.transferStore
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

// Options wires both stores into core.NewService.
func (f *RepositoryFactory) Options() []core.Option {
	if f == nil {
		return nil
	}
	return []core.Option{
		core.WithNegotiationStore(f.NegotiationStore()),
		core.WithTransferStore(f.TransferStore()),
	}
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		if typed == nil {
			return nil, fmt.Errorf("sqlstore: persistence client is required")
		}
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
