package commitdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
)

// FieldID is the reserved document field holding the system-assigned id.
const FieldID = "id"

// Document is a schemaless field→value mapping. The shape of a document is
// governed by its collection's schema, not by a Go struct, because the set
// of collections is configuration.
type Document map[string]any

// ID returns the document's unique identifier.
func (d Document) ID() string {
	id, _ := d[FieldID].(string)
	return id
}

// clone returns a shallow copy of the document. Field values are shared,
// but adding or replacing fields on the copy never touches the original.
func (d Document) clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Filter selects documents from a collection listing.
type Filter func(Document) bool

// Where returns a Filter matching documents whose fields equal every entry
// in the given map. Admin screens filter by things like status or author.
// Equality is deep: filtering on an array-typed field compares element-wise
// instead of panicking on an uncomparable interface value.
func Where(fields Document) Filter {
	return func(d Document) bool {
		for k, want := range fields {
			if !reflect.DeepEqual(d[k], want) {
				return false
			}
		}
		return true
	}
}

// decodeCollection parses a collection file into its document list.
// An absent or empty file is a valid empty collection.
func decodeCollection(data []byte) ([]Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return []Document{}, nil
	}
	var docs []Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("decode collection: %w", err)
	}
	if docs == nil {
		docs = []Document{}
	}
	return docs, nil
}

// encodeCollection renders a document list as the collection file content.
// Indented output keeps the files diffable in the backing repository.
func encodeCollection(docs []Document) ([]byte, error) {
	if docs == nil {
		docs = []Document{}
	}
	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode collection: %w", err)
	}
	return append(data, '\n'), nil
}

// cloneDocuments copies a document list so cache contents and caller
// results never alias each other.
func cloneDocuments(docs []Document) []Document {
	out := make([]Document, len(docs))
	for i, d := range docs {
		out[i] = d.clone()
	}
	return out
}

// findByID returns the index of the document with the given id, or -1.
func findByID(docs []Document, id string) int {
	for i, d := range docs {
		if d.ID() == id {
			return i
		}
	}
	return -1
}
