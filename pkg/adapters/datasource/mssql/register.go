package mssql

import (
	"database/sql"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
)

func init() {
	datasource.Register(datasource.DriverRegistration{
		Info: datasource.DriverInfo{
			Backend:     models.BackendMSSQL,
			DisplayName: "Microsoft SQL Server",
			Description: "SQL Server 2016+, Azure SQL Database",
		},
		Open: Open,
		NewDriver: func(db *sql.DB, logger *zap.Logger) datasource.Driver {
			return NewDriver(db, logger)
		},
	})
}
