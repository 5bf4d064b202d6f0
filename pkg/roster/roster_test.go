package roster

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/oncoplus/pkg/enrollment"
)

var exportTime = time.Date(2024, 6, 15, 14, 30, 0, 0, time.UTC)

func sampleEnrollee() (*enrollment.Enrollee, []*enrollment.Dependent) {
	e := &enrollment.Enrollee{
		ID: "e-1",
		Person: enrollment.Person{
			FirstName:      "Ana",
			MiddleName:     "Lucia",
			PaternalName:   "Quispe",
			MaternalName:   "Rojas",
			DocumentType:   enrollment.DocumentTypeDNI,
			DocumentNumber: "12345678",
			BirthDate:      "1985-03-09",
			Sex:            "F",
		},
		CoverageStart: time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
	}
	deps := []*enrollment.Dependent{
		{
			ID:           "d-1",
			EnrolleeID:   "e-1",
			Relationship: enrollment.RelationshipSon,
			Person: enrollment.Person{
				FirstName:      "Luis",
				PaternalName:   "Quispe",
				MaternalName:   "Rojas",
				DocumentType:   enrollment.DocumentTypeCE,
				DocumentNumber: "001122334",
				BirthDate:      "12/11/2012",
				Sex:            "M",
			},
		},
	}
	return e, deps
}

func TestRelationshipCode(t *testing.T) {
	tests := map[enrollment.Relationship]string{
		enrollment.RelationshipPrimary:  "01",
		enrollment.RelationshipSpouse:   "02",
		enrollment.RelationshipFather:   "03",
		enrollment.RelationshipMother:   "03",
		enrollment.RelationshipSon:      "04",
		enrollment.RelationshipDaughter: "04",
		"hija":                          "04",
		"SOBRINO":                       "05",
		"":                              "05",
	}
	for rel, want := range tests {
		assert.Equal(t, want, RelationshipCode(rel), "relationship %q", rel)
	}
}

func TestDocumentTypeCode(t *testing.T) {
	assert.Equal(t, "01", DocumentTypeCode(enrollment.DocumentTypeDNI))
	assert.Equal(t, "02", DocumentTypeCode(enrollment.DocumentTypeCE))
	assert.Equal(t, "02", DocumentTypeCode("ce"))
	assert.Equal(t, "01", DocumentTypeCode("PASAPORTE"))
}

func TestBuildRows(t *testing.T) {
	e, deps := sampleEnrollee()
	rows := BuildRows(e, deps, exportTime)
	require.Len(t, rows, 2)

	primary := rows[0]
	assert.Equal(t, "e-1", primary.EnrolleeID)
	assert.Equal(t, "12345678", primary.CertificateNumber)
	assert.Equal(t, "01", primary.RelationshipCode)
	assert.Equal(t, "01", primary.DocumentTypeCode)
	assert.Equal(t, "Ana", primary.FirstName)
	assert.Equal(t, "Lucia", primary.MiddleName)
	assert.Equal(t, CountryPeru, primary.Country)
	assert.Equal(t, MovementAlta, primary.Movement)
	assert.Equal(t, ProgramPlus, primary.Program)
	assert.Equal(t, e.CoverageStart, primary.CoverageStart)
	assert.Equal(t, exportTime, primary.CreatedAt)

	child := rows[1]
	assert.Equal(t, "12345678", child.CertificateNumber)
	assert.Equal(t, "04", child.RelationshipCode)
	assert.Equal(t, "02", child.DocumentTypeCode)
	assert.Equal(t, "Luis", child.FirstName)
	assert.Empty(t, child.MiddleName)
	assert.NotEqual(t, primary.ID, child.ID)
}

func TestBuildRows_DefaultCoverage(t *testing.T) {
	e, _ := sampleEnrollee()
	e.CoverageStart = time.Time{}
	rows := BuildRows(e, nil, exportTime)
	require.Len(t, rows, 1)
	assert.Equal(t, enrollment.CoverageStart(exportTime), rows[0].CoverageStart)
}

func TestWriteCSV(t *testing.T) {
	e, deps := sampleEnrollee()
	rows := BuildRows(e, deps, exportTime)
	rows[1].BirthDate = "not a date"

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, rows, Company{Address: "Av. Arequipa 123", ContactEmail: "rrhh@example.com"}))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, Header, records[0])

	first := records[1]
	require.Len(t, first, len(Header))
	assert.Equal(t, []string{
		"PER", "ALTA", "", "12345678", "Quispe", "Rojas", "Ana", "Lucia", "F",
		"09/03/1985", "01", "01", "12345678", "Av. Arequipa 123", "rrhh@example.com", "PLUS", "01/07/2024",
	}, first)

	second := records[2]
	assert.Equal(t, "Luis", second[6])
	assert.Equal(t, "", second[7])
	assert.Equal(t, "not a date", second[9])
}

func TestWriteCSV_CompoundFirstName(t *testing.T) {
	e, _ := sampleEnrollee()
	e.Person.FirstName = "María José"
	e.Person.MiddleName = ""
	rows := BuildRows(e, nil, exportTime)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, rows, Company{}))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "María José", records[1][6])
	assert.Equal(t, "", records[1][7])
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "tramas/trama-grupal-20240615-143000.csv", objectKey("tramas", exportTime))
	assert.Equal(t, "trama-grupal-20240615-143000.csv", objectKey("", exportTime))
}

type memRows struct {
	rows []*enrollment.RosterRow
	err  error
}

func (m *memRows) CreateRosterRows(ctx context.Context, rows []*enrollment.RosterRow) error {
	m.rows = append(m.rows, rows...)
	return nil
}

func (m *memRows) ListRosterRows(ctx context.Context, since time.Time) ([]*enrollment.RosterRow, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*enrollment.RosterRow
	for _, r := range m.rows {
		if !r.CreatedAt.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

type memObjects struct {
	objects map[string][]byte
	putErr  error
}

func newMemObjects() *memObjects {
	return &memObjects{objects: map[string][]byte{}}
}

func (m *memObjects) Put(ctx context.Context, key string, content []byte, contentType string) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.objects[key] = append([]byte(nil), content...)
	return nil
}

func (m *memObjects) Get(ctx context.Context, key string) ([]byte, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return data, nil
}

func TestExporter_ExportsOnlyNewRows(t *testing.T) {
	e, deps := sampleEnrollee()
	store := &memRows{}
	require.NoError(t, store.CreateRosterRows(context.Background(), BuildRows(e, deps, exportTime.Add(-time.Hour))))

	objects := newMemObjects()
	exporter := NewExporter(store, objects, "/tramas/", Company{}, nil, nil)
	exporter.now = func() time.Time { return exportTime }

	result, err := exporter.Export(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Rows)
	assert.Equal(t, "tramas/trama-grupal-20240615-143000.csv", result.Key)
	assert.True(t, result.Since.IsZero())
	assert.Equal(t, exportTime.Add(-time.Hour), result.Until)

	records, err := csv.NewReader(bytes.NewReader(objects.objects[result.Key])).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 3)
	assert.Equal(t, exportTime.Add(-time.Hour).Format(time.RFC3339Nano), string(objects.objects["tramas/.cursor"]))

	// nothing new: no upload
	exporter.now = func() time.Time { return exportTime.Add(time.Hour) }
	result, err = exporter.Export(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Rows)
	assert.Empty(t, result.Key)
	assert.Len(t, objects.objects, 2)

	// a later intake is exported alone
	second, _ := sampleEnrollee()
	second.ID = "e-2"
	second.Person.DocumentNumber = "87654321"
	require.NoError(t, store.CreateRosterRows(context.Background(), BuildRows(second, nil, exportTime)))

	result, err = exporter.Export(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Rows)
	records, err = csv.NewReader(bytes.NewReader(objects.objects[result.Key])).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "87654321", records[1][3])
}

func TestExporter_Failures(t *testing.T) {
	t.Run("list error", func(t *testing.T) {
		exporter := NewExporter(&memRows{err: errors.New("db down")}, newMemObjects(), "", Company{}, nil, nil)
		_, err := exporter.Export(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to list roster rows")
	})

	t.Run("upload error keeps cursor", func(t *testing.T) {
		e, _ := sampleEnrollee()
		store := &memRows{}
		require.NoError(t, store.CreateRosterRows(context.Background(), BuildRows(e, nil, exportTime)))
		objects := newMemObjects()
		objects.putErr = errors.New("access denied")

		exporter := NewExporter(store, objects, "", Company{}, nil, nil)
		_, err := exporter.Export(context.Background())
		require.Error(t, err)
		_, ok := objects.objects[".cursor"]
		assert.False(t, ok)
	})

	t.Run("corrupt cursor", func(t *testing.T) {
		objects := newMemObjects()
		objects.objects[".cursor"] = []byte("yesterday")
		exporter := NewExporter(&memRows{}, objects, "", Company{}, nil, nil)
		_, err := exporter.Export(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid export cursor")
	})
}

type fakeS3 struct {
	puts          []*s3.PutObjectInput
	objects       map[string][]byte
	bucketMissing bool
	created       bool
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.puts = append(f.puts, in)
	f.objects[*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.bucketMissing {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) CreateBucket(ctx context.Context, in *s3.CreateBucketInput, opts ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.created = true
	f.bucketMissing = false
	return &s3.CreateBucketOutput{}, nil
}

func TestS3Uploader(t *testing.T) {
	client := &fakeS3{objects: map[string][]byte{}, bucketMissing: true}
	u := &S3Uploader{client: client, bucket: "tramas"}
	ctx := context.Background()

	require.NoError(t, u.ensureBucket(ctx))
	assert.True(t, client.created)

	require.NoError(t, u.Put(ctx, "a.csv", []byte("PAIS\n"), "text/csv"))
	require.Len(t, client.puts, 1)
	assert.Equal(t, "tramas", *client.puts[0].Bucket)
	assert.Equal(t, "text/csv", *client.puts[0].ContentType)
	// sha256("PAIS\n")
	assert.Len(t, client.puts[0].Metadata["checksum-sha256"], 64)

	data, err := u.Get(ctx, "a.csv")
	require.NoError(t, err)
	assert.Equal(t, "PAIS\n", string(data))

	_, err = u.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestIsNotFoundError(t *testing.T) {
	assert.True(t, isNotFoundError(&types.NoSuchKey{}))
	assert.True(t, isNotFoundError(errors.New("api error NotFound: Not Found")))
	assert.False(t, isNotFoundError(errors.New("AccessDenied")))
	assert.False(t, isNotFoundError(nil))
}
