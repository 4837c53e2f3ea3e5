package mapsource

import (
	"path/filepath"
	"strings"

	"github.com/couchbase/crushmap/common/crushmap"
	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

const snappySuffix = ".sz"

// Encoding describes how a stored document is serialized.  Compressed
// documents use the snappy block format.
type Encoding struct {
	Format     crushmap.Format
	Compressed bool
}

// EncodingFromPath derives the encoding from a file name such as
// crush.json, crush.yaml or crush.json.sz.
func EncodingFromPath(path string) (Encoding, error) {
	var enc Encoding
	if strings.EqualFold(filepath.Ext(path), snappySuffix) {
		enc.Compressed = true
		path = path[:len(path)-len(snappySuffix)]
	}

	format, err := crushmap.FormatFromPath(path)
	if err != nil {
		return Encoding{}, err
	}
	enc.Format = format

	return enc, nil
}

func (e Encoding) String() string {
	if e.Compressed {
		return e.Format.String() + "+snappy"
	}
	return e.Format.String()
}

func (e Encoding) Decode(data []byte) (*crushmap.CrushMap, error) {
	if e.Compressed {
		decoded, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, errors.Wrap(err, "failed to decompress crush map")
		}
		data = decoded
	}

	return crushmap.Load(data, e.Format)
}

// Encode compresses an already serialized document when required.
func (e Encoding) Encode(data []byte) []byte {
	if e.Compressed {
		return snappy.Encode(nil, data)
	}
	return data
}
