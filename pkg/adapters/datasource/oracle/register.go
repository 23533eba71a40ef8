package oracle

import (
	"database/sql"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
)

func init() {
	datasource.Register(datasource.DriverRegistration{
		Info: datasource.DriverInfo{
			Backend:     models.BackendOracle,
			DisplayName: "Oracle Database",
			Description: "Oracle 12c+ with SYS_REFCURSOR result sets",
		},
		Open: Open,
		NewDriver: func(db *sql.DB, logger *zap.Logger) datasource.Driver {
			return NewDriver(db, logger)
		},
	})
}
