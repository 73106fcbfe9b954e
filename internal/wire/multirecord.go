package wire

import (
	"io"

	"OracleMon/internal/errkind"
)

// QueryRecord accumulates the sub-records of one full query-detail response:
// the fixed metadata record plus the interface-specific query and reply
// payloads. The payload byte records may arrive split across multiple chunks
// and are concatenated in arrival order.
type QueryRecord struct {
	Metadata  *QueryMetadata
	QueryData []byte
	ReplyData []byte
}

// ReadQueryRecord consumes TypeRespondData frames until the end-of-response
// marker and groups their sub-records by discriminant. A response with no
// metadata record yields a nil record ("not available"), not an error.
func ReadQueryRecord(r io.Reader) (*QueryRecord, error) {
	rec := &QueryRecord{}
	seen := false

	err := readMultiRecord(r, func(kind byte, data []byte) {
		switch kind {
		case RecordMetadata:
			if m, ok := DecodeQueryMetadata(data); ok {
				rec.Metadata = m
				seen = true
			}
		case RecordQueryData:
			rec.QueryData = append(rec.QueryData, data...)
		case RecordReplyData:
			rec.ReplyData = append(rec.ReplyData, data...)
		}
	})
	if err != nil {
		return nil, err
	}
	if !seen {
		return nil, nil
	}
	return rec, nil
}

// ReadIDList consumes TypeRespondData frames until the end-of-response
// marker and unpacks every id-list sub-record.
func ReadIDList(r io.Reader) ([]int64, error) {
	var ids []int64
	err := readMultiRecord(r, func(kind byte, data []byte) {
		if kind == RecordIDList {
			ids = append(ids, DecodeIDList(data)...)
		}
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// readMultiRecord reads substantive frames until TypeEndResponse, handing
// each sub-record (first payload byte is the kind discriminant) to collect.
// Heartbeats in between are skipped by ReadResponse; sub-records with an
// unrecognized discriminant are ignored.
func readMultiRecord(r io.Reader, collect func(kind byte, data []byte)) error {
	for {
		frame, err := ReadResponse(r)
		if err != nil {
			return err
		}
		switch frame.Type {
		case TypeEndResponse:
			return nil
		case TypeRespondData:
			if len(frame.Payload) < 1 {
				continue
			}
			collect(frame.Payload[0], frame.Payload[1:])
		default:
			return errkind.Newf(errkind.Protocol, "unexpected frame type %d inside multi-record response", frame.Type)
		}
	}
}
