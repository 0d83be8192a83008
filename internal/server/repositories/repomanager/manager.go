package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/finkeeper/internal/dbx"
	"github.com/dmitrijs2005/finkeeper/internal/server/repositories/receipts"
	"github.com/dmitrijs2005/finkeeper/internal/server/repositories/records"
)

// RepositoryManager vends repositories bound to a DBTX so services can use
// the same constructors inside and outside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Records(db dbx.DBTX) records.Repository
	Receipts(db dbx.DBTX) receipts.Repository
}
