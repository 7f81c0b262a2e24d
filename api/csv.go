/*
csv.go - Employee CSV template and bulk import

FORMAT:
  First Name,Last Name,Email,Department,Job Role,Salary,Location,Status

  Location is a tax jurisdiction label ("USA - California"); the country is
  derived from the jurisdiction when the tax tables know it. Salary accepts
  "$120,000" style input. Status defaults to Active.

IMPORT:
  POST /api/employees/import with either a multipart "file" field or a raw
  text/csv body. Rows are created one by one; a bad row is reported with
  its line number and does not stop the import.

SEE ALSO:
  - handlers.go: CreateEmployee (same validation path)
*/
package api

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/payroll"
)

// TemplateHeader is the column order of the import format.
var TemplateHeader = []string{"First Name", "Last Name", "Email", "Department", "Job Role", "Salary", "Location", "Status"}

// DefaultPayPeriodHours is applied to imported employees; the CSV format
// carries no hours.
var DefaultPayPeriodHours = decimal.NewFromInt(160)

const maxImportBytes = 5 << 20

// EmployeeTemplate serves the empty CSV template.
func (h *Handler) EmployeeTemplate(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="employee_template.csv"`)
	cw := csv.NewWriter(w)
	cw.Write(TemplateHeader)
	cw.Flush()
}

// ImportEmployees creates one employee per CSV row.
func (h *Handler) ImportEmployees(w http.ResponseWriter, r *http.Request) {
	body, err := importBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid upload", err)
		return
	}
	defer body.Close()

	rows, rowErrs, err := h.parseEmployeeCSV(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid CSV", err)
		return
	}

	resp := ImportResponse{Employees: []EmployeeDTO{}, Errors: rowErrs}
	for _, row := range rows {
		created, err := h.Service.CreateEmployee(r.Context(), row.emp)
		if err != nil {
			resp.Errors = append(resp.Errors, ImportRowError{Line: row.line, Error: err.Error()})
			continue
		}
		resp.Created++
		resp.Employees = append(resp.Employees, toEmployeeDTO(created))
	}
	if resp.Errors == nil {
		resp.Errors = []ImportRowError{}
	}

	h.Logger.Info("employees imported", zap.Int("created", resp.Created), zap.Int("rejected", len(resp.Errors)))
	writeJSON(w, http.StatusOK, resp)
}

func importBody(w http.ResponseWriter, r *http.Request) (io.ReadCloser, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxImportBytes); err != nil {
			return nil, err
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			return nil, fmt.Errorf("file field: %w", err)
		}
		return f, nil
	}
	if r.Body == nil {
		return nil, errors.New("empty body")
	}
	return http.MaxBytesReader(w, r.Body, maxImportBytes), nil
}

type csvRow struct {
	line int
	emp  payroll.Employee
}

func (h *Handler) parseEmployeeCSV(src io.Reader) ([]csvRow, []ImportRowError, error) {
	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	for _, required := range []string{"first name", "salary"} {
		if _, ok := cols[required]; !ok {
			return nil, nil, fmt.Errorf("missing column %q", required)
		}
	}

	field := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	cfg := h.tax().Config()
	var (
		rows []csvRow
		errs []ImportRowError
	)
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			errs = append(errs, ImportRowError{Line: line, Error: err.Error()})
			continue
		}
		if strings.TrimSpace(strings.Join(rec, "")) == "" {
			continue
		}

		salary, err := parseMoney(field(rec, "salary"))
		if err != nil {
			errs = append(errs, ImportRowError{Line: line, Error: err.Error()})
			continue
		}
		location := field(rec, "location")
		emp := payroll.Employee{
			FirstName:      field(rec, "first name"),
			LastName:       field(rec, "last name"),
			Email:          field(rec, "email"),
			Department:     field(rec, "department"),
			JobRole:        field(rec, "job role"),
			Status:         field(rec, "status"),
			Jurisdiction:   location,
			Country:        cfg.CountryForJurisdiction(location),
			Salary:         salary,
			PayPeriodHours: DefaultPayPeriodHours,
		}
		if emp.FirstName == "" {
			errs = append(errs, ImportRowError{Line: line, Error: "first name is required"})
			continue
		}
		rows = append(rows, csvRow{line: line, emp: emp})
	}
	return rows, errs, nil
}

func parseMoney(s string) (decimal.Decimal, error) {
	clean := strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
	if clean == "" {
		return decimal.Zero, errors.New("salary is required")
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid salary %q", s)
	}
	return d, nil
}
