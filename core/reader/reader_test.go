package reader

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlainTextReaderSkipsBlankAndComment(t *testing.T) {
	input := "alice@example.com\n\n# a comment\nbob@example.com,extra1,extra2\n"
	r := NewPlainTextReader("test.txt", strings.NewReader(input))

	rec1, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", rec1.RawAddress)
	assert.Equal(t, 1, rec1.SourceRow)

	rec2, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", rec2.RawAddress)
	require.NotNil(t, rec2.Metadata)
	assert.Equal(t, []string{"extra1", "extra2"}, rec2.Metadata.ExtraColumns)
	assert.Equal(t, 4, rec2.SourceRow)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStructuredReaderTolerantOfNamespaceDrift(t *testing.T) {
	doc := `<root>
		<ns:record>
			<ns:email>alice@example.com</ns:email>
			<ns:company>Acme</ns:company>
			<ns:country>US</ns:country>
		</ns:record>
		<record>
			<email>bob@example.com</email>
		</record>
	</root>`

	r, err := NewStructuredReader("test.xml", strings.NewReader(doc))
	require.NoError(t, err)

	rec1, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", rec1.RawAddress)
	require.NotNil(t, rec1.Metadata)
	assert.Equal(t, "Acme", rec1.Metadata.CompanyName)

	rec2, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", rec2.RawAddress)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStructuredReaderEmitsRecordWithoutAddress(t *testing.T) {
	doc := `<root><record><company>Acme</company></record></root>`
	r, err := NewStructuredReader("test.xml", strings.NewReader(doc))
	require.NoError(t, err)

	rec, err := r.Next()
	require.NoError(t, err)
	assert.Empty(t, rec.RawAddress)
}
