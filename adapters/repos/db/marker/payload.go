//                           _       _
// __      _____  __ ___   ___  __ _| |_ ___
// \ \ /\ / / _ \/ _` \ \ / / |/ _` | __/ _ \
//  \ V  V /  __/ (_| |\ V /| | (_| | ||  __/
//   \_/\_/ \___|\__,_| \_/ |_|\__,_|\__\___|
//
//  Copyright © 2016 - 2024 Weaviate B.V. All rights reserved.
//
//  CONTACT: hello@weaviate.io
//

package marker

import (
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Document is the payload of document and remove markers. Remove markers
// only carry the key and the revision of the removal.
type Document struct {
	Key      string                 `msgpack:"_key"`
	Revision uint64                 `msgpack:"_rev"`
	Body     map[string]interface{} `msgpack:"body,omitempty"`
}

// documentKey decodes only the identifying attributes of a document payload.
type documentKey struct {
	Key      string `msgpack:"_key"`
	Revision uint64 `msgpack:"_rev"`
}

func EncodeDocument(doc Document) ([]byte, error) {
	if doc.Key == "" {
		return nil, errors.New("document without key")
	}
	b, err := msgpack.Marshal(&doc)
	if err != nil {
		return nil, errors.Wrapf(err, "encode document %q", doc.Key)
	}
	return b, nil
}

func DecodeDocument(payload []byte) (Document, error) {
	var doc Document
	if err := msgpack.Unmarshal(payload, &doc); err != nil {
		return doc, errors.Wrap(err, "decode document")
	}
	return doc, nil
}

// DocumentKey extracts key and revision of a document or remove marker
// without decoding the body.
func DocumentKey(m Marker) (string, uint64, error) {
	if !m.Type().IsData() {
		return "", 0, errors.Errorf("marker of type %s has no document key", m.Type())
	}
	var k documentKey
	if err := msgpack.Unmarshal(m.Payload(), &k); err != nil {
		return "", 0, errors.Wrapf(err, "decode key of marker at tick %d", m.Tick())
	}
	return k.Key, k.Revision, nil
}

// CollectionDefinition is the payload of collection markers.
type CollectionDefinition struct {
	Name        string `msgpack:"name"`
	GUID        string `msgpack:"guid"`
	OldName     string `msgpack:"oldName,omitempty"`
	JournalSize uint32 `msgpack:"journalSize,omitempty"`
	DoCompact   bool   `msgpack:"doCompact"`
	IsSystem    bool   `msgpack:"isSystem"`
}

// DatabaseDefinition is the payload of database markers.
type DatabaseDefinition struct {
	Name string `msgpack:"name"`
}

// EncodeDefinition serializes a structural payload.
func EncodeDefinition(v interface{}) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encode definition")
	}
	return b, nil
}

func DecodeCollectionDefinition(payload []byte) (CollectionDefinition, error) {
	var def CollectionDefinition
	if err := msgpack.Unmarshal(payload, &def); err != nil {
		return def, errors.Wrap(err, "decode collection definition")
	}
	return def, nil
}
