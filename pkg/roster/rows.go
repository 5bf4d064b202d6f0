package roster

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/oncoplus/pkg/enrollment"
)

// Fixed frame values
const (
	CountryPeru  = "PER"
	MovementAlta = "ALTA"
	ProgramPlus  = "PLUS"
)

// RelationshipCode maps a relationship to the insurer's code
func RelationshipCode(r enrollment.Relationship) string {
	switch enrollment.Relationship(strings.ToUpper(strings.TrimSpace(string(r)))) {
	case enrollment.RelationshipPrimary:
		return "01"
	case enrollment.RelationshipSpouse:
		return "02"
	case enrollment.RelationshipFather, enrollment.RelationshipMother:
		return "03"
	case enrollment.RelationshipSon, enrollment.RelationshipDaughter:
		return "04"
	default:
		return "05"
	}
}

// DocumentTypeCode maps a document type to the insurer's code
func DocumentTypeCode(d enrollment.DocumentType) string {
	if enrollment.DocumentType(strings.ToUpper(string(d))) == enrollment.DocumentTypeCE {
		return "02"
	}
	return "01"
}

// BuildRows returns the frame rows of one intake, primary first
func BuildRows(e *enrollment.Enrollee, deps []*enrollment.Dependent, now time.Time) []*enrollment.RosterRow {
	coverage := e.CoverageStart
	if coverage.IsZero() {
		coverage = enrollment.CoverageStart(now)
	}
	certificate := e.Person.DocumentNumber

	rows := make([]*enrollment.RosterRow, 0, len(deps)+1)
	rows = append(rows, newRow(e.ID, certificate, enrollment.RelationshipPrimary, e.Person, coverage, now))
	for _, d := range deps {
		rows = append(rows, newRow(e.ID, certificate, d.Relationship, d.Person, coverage, now))
	}
	return rows
}

func newRow(enrolleeID, certificate string, rel enrollment.Relationship, p enrollment.Person, coverage, now time.Time) *enrollment.RosterRow {
	return &enrollment.RosterRow{
		ID:                uuid.NewString(),
		EnrolleeID:        enrolleeID,
		CertificateNumber: certificate,
		RelationshipCode:  RelationshipCode(rel),
		DocumentTypeCode:  DocumentTypeCode(p.DocumentType),
		DocumentNumber:    p.DocumentNumber,
		PaternalName:      p.PaternalName,
		MaternalName:      p.MaternalName,
		FirstName:         strings.TrimSpace(p.FirstName),
		MiddleName:        strings.TrimSpace(p.MiddleName),
		BirthDate:         p.BirthDate,
		Sex:               p.Sex,
		Country:           CountryPeru,
		Movement:          MovementAlta,
		Program:           ProgramPlus,
		CoverageStart:     coverage,
		CreatedAt:         now,
	}
}
