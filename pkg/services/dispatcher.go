package services

import (
	"context"
	"fmt"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
)

// Executor runs a materialized statement with one raw-execution primitive.
type Executor func(ctx context.Context, driver datasource.Driver, stmt models.Statement) (any, error)

// Route is the dispatch target of a (shape, backend, output) combination.
type Route struct {
	Name    string // e.g. "fill-table/procedure/oracle"
	Shape   models.ExecutionShape
	Backend models.Backend
	Output  models.OutputShape
	Run     Executor
}

// Tabular reports whether the route returns a table or a set, and so may be cached.
func (r Route) Tabular() bool {
	return r.Shape.ReturnsTable()
}

type routeKey struct {
	shape   models.ExecutionShape
	backend models.Backend
	output  models.OutputShape
}

// Dispatcher maps a combination of execution shape, backend and output shape to an executor.
// The table is closed: anything not listed is not implemented.
type Dispatcher struct {
	routes map[routeKey]Route
}

// supportedOutputs lists the output shapes each execution shape renders to.
var supportedOutputs = map[models.ExecutionShape][]models.OutputShape{
	models.ShapeScalarText:         {models.OutputJSON},
	models.ShapeScalarProcedure:    {models.OutputJSON},
	models.ShapeNonQueryText:       {models.OutputJSON},
	models.ShapeNonQueryProcedure:  {models.OutputJSON},
	models.ShapeDataTableText:      {models.OutputJSON, models.OutputCSV, models.OutputExcel, models.OutputPDF},
	models.ShapeDataTableProcedure: {models.OutputJSON, models.OutputCSV, models.OutputExcel, models.OutputPDF},
	models.ShapeDataSetText:        {models.OutputJSON, models.OutputExcel, models.OutputPDF},
	models.ShapeDataSetProcedure:   {models.OutputJSON, models.OutputExcel, models.OutputPDF},
}

// NewDispatcher builds the dispatch table for every supported combination.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{routes: make(map[routeKey]Route)}
	for _, shape := range models.AllExecutionShapes() {
		for _, backend := range models.AllBackends() {
			for _, output := range supportedOutputs[shape] {
				d.routes[routeKey{shape, backend, output}] = newRoute(shape, backend, output)
			}
		}
	}
	return d
}

func newRoute(shape models.ExecutionShape, backend models.Backend, output models.OutputShape) Route {
	var (
		primitive string
		run       Executor
	)
	switch shape {
	case models.ShapeScalarText, models.ShapeScalarProcedure:
		primitive, run = "run-scalar", runScalar
	case models.ShapeNonQueryText, models.ShapeNonQueryProcedure:
		primitive, run = "run-non-query", runNonQuery
	case models.ShapeDataTableText, models.ShapeDataTableProcedure:
		primitive, run = "fill-table", fillTable
	case models.ShapeDataSetText, models.ShapeDataSetProcedure:
		primitive, run = "fill-set", fillSet
	}

	form := "text"
	if shape.IsProcedure() {
		form = "procedure"
	}

	return Route{
		Name:    fmt.Sprintf("%s/%s/%s", primitive, form, backend),
		Shape:   shape,
		Backend: backend,
		Output:  output,
		Run:     bindStatementForm(shape.IsProcedure(), backend, run),
	}
}

// bindStatementForm pins the executor to text or procedure statements on one backend.
func bindStatementForm(procedure bool, backend models.Backend, run Executor) Executor {
	return func(ctx context.Context, driver datasource.Driver, stmt models.Statement) (any, error) {
		if driver.Backend() != backend {
			return nil, fmt.Errorf("%w: route for %s got a %s driver", apperrors.ErrUnsupportedBackend, backend, driver.Backend())
		}
		stmt.Procedure = procedure
		return run(ctx, driver, stmt)
	}
}

// Resolve returns the route for the combination, or an error wrapping apperrors.ErrNotImplemented.
func (d *Dispatcher) Resolve(shape models.ExecutionShape, backend models.Backend, output models.OutputShape) (Route, error) {
	r, ok := d.routes[routeKey{shape, backend, output}]
	if !ok {
		return Route{}, fmt.Errorf("%w: %s on %s with %s output", apperrors.ErrNotImplemented, shape, backend, output)
	}
	return r, nil
}

// Len returns the number of supported combinations.
func (d *Dispatcher) Len() int {
	return len(d.routes)
}

func runScalar(ctx context.Context, driver datasource.Driver, stmt models.Statement) (any, error) {
	return driver.ExecuteScalar(ctx, stmt)
}

func runNonQuery(ctx context.Context, driver datasource.Driver, stmt models.Statement) (any, error) {
	return driver.ExecuteNonQuery(ctx, stmt)
}

func fillTable(ctx context.Context, driver datasource.Driver, stmt models.Statement) (any, error) {
	return driver.FillTable(ctx, stmt)
}

func fillSet(ctx context.Context, driver datasource.Driver, stmt models.Statement) (any, error) {
	return driver.FillSet(ctx, stmt)
}
