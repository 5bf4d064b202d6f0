package roster

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/platinummonkey/oncoplus/pkg/enrollment"
)

// Header is the column layout the insurer expects
var Header = []string{
	"PAIS", "TIPO DE TRAMA", "GF SAP", "CERTFICADO", "APELLIDO PATERNO", "APELLIDO MATERNO",
	"NOMBRE 1", "NOMBRE 2", "SEXO", "FECHA DE NACIMIENTO DD/MM/AAAA", "PARENTESCO",
	"TIPO DE DOCUMENTO", "NUMERO DE DOCUMENTO", "DIRECCION DE EMPRESA",
	"CORREO DE CONTACTO DE LA EMPRESA", "PROGRAMA", "INICIO/FIN VIGENCIA",
}

// Company holds the policyholder columns repeated on every row
type Company struct {
	Address      string
	ContactEmail string
}

const dateLayout = "02/01/2006"

// WriteCSV writes the header and one record per row
func WriteCSV(w io.Writer, rows []*enrollment.RosterRow, company Company) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, r := range rows {
		record := []string{
			r.Country,
			r.Movement,
			"",
			r.CertificateNumber,
			r.PaternalName,
			r.MaternalName,
			r.FirstName,
			r.MiddleName,
			r.Sex,
			formatBirthDate(r.BirthDate),
			r.RelationshipCode,
			r.DocumentTypeCode,
			r.DocumentNumber,
			company.Address,
			company.ContactEmail,
			r.Program,
			r.CoverageStart.Format(dateLayout),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write row %s: %w", r.ID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// formatBirthDate renders parseable dates as DD/MM/YYYY and keeps anything
// else as submitted
func formatBirthDate(raw string) string {
	t, err := enrollment.ParseDate(raw)
	if err != nil {
		return raw
	}
	return t.Format(dateLayout)
}

// objectKey names an export file
func objectKey(prefix string, at time.Time) string {
	name := fmt.Sprintf("trama-grupal-%s.csv", at.UTC().Format("20060102-150405"))
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
