// Copyright 2026 The Zff Authors
// SPDX-License-Identifier: Apache-2.0

package header

import (
	"fmt"
)

// DescriptionHeaderVersion is the current format version of the
// description header.
const DescriptionHeaderVersion = 1

// Description field tags. Each is a fixed 2-character key; string fields
// are encoded as tag + u64 length + UTF-8 bytes, the acquisition date as
// tag + u64 epoch seconds.
const (
	tagCaseNumber      = "cn"
	tagEvidenceNumber  = "ev"
	tagExaminerName    = "ex"
	tagNotes           = "no"
	tagAcquisitionDate = "ad"
)

// DescriptionHeader carries the case metadata of an acquisition. Every
// field is optional: an empty string (or zero acquisition date) is simply
// omitted from the encoding, so absence round-trips as absence rather than
// as an empty-string sentinel. Immutable after container creation.
type DescriptionHeader struct {
	CaseNumber     string
	EvidenceNumber string
	ExaminerName   string
	Notes          string

	// AcquisitionDate is seconds since the Unix epoch; zero means the
	// date was not provided.
	AcquisitionDate uint64
}

// Encode serializes the description header. Fields are written in a fixed
// order so equal headers encode to equal bytes.
func (h DescriptionHeader) Encode() []byte {
	var payload []byte

	appendString := func(tag, value string) {
		if value == "" {
			return
		}
		payload = append(payload, tag...)
		payload = appendU64(payload, uint64(len(value)))
		payload = append(payload, value...)
	}

	appendString(tagCaseNumber, h.CaseNumber)
	appendString(tagEvidenceNumber, h.EvidenceNumber)
	appendString(tagExaminerName, h.ExaminerName)
	appendString(tagNotes, h.Notes)
	if h.AcquisitionDate != 0 {
		payload = append(payload, tagAcquisitionDate...)
		payload = appendU64(payload, h.AcquisitionDate)
	}

	return encodeFrame(MagicDescriptionHeader, DescriptionHeaderVersion, payload)
}

// DecodeDescriptionHeader parses a description header from the start of
// data and returns it with the number of bytes consumed. Each tag may
// occur at most once; unknown tags are a corruption since their shape
// cannot be known.
func DecodeDescriptionHeader(data []byte) (DescriptionHeader, int, error) {
	_, payload, consumed, err := decodeFrame(data, MagicDescriptionHeader, DescriptionHeaderVersion, "description header")
	if err != nil {
		return DescriptionHeader{}, 0, err
	}

	reader := newPayloadReader("description header", payload)
	var decoded DescriptionHeader
	seen := make(map[string]bool)

	readString := func() string {
		length := reader.u64()
		if length > uint64(len(payload)) {
			reader.fail("string field length %d exceeds payload", length)
			return ""
		}
		return string(reader.take(int(length)))
	}

	for !reader.exhausted() {
		tag := string(reader.take(2))
		if reader.err != nil {
			break
		}
		if seen[tag] {
			reader.fail("duplicate field tag %q", tag)
			break
		}
		seen[tag] = true

		switch tag {
		case tagCaseNumber:
			decoded.CaseNumber = readString()
		case tagEvidenceNumber:
			decoded.EvidenceNumber = readString()
		case tagExaminerName:
			decoded.ExaminerName = readString()
		case tagNotes:
			decoded.Notes = readString()
		case tagAcquisitionDate:
			decoded.AcquisitionDate = reader.u64()
		default:
			reader.fail("unknown field tag %q", tag)
		}
	}

	if err := reader.finish(); err != nil {
		return DescriptionHeader{}, 0, err
	}
	return decoded, consumed, nil
}

// Empty reports whether no metadata field is set.
func (h DescriptionHeader) Empty() bool {
	return h == DescriptionHeader{}
}

// String summarizes the set fields for log output.
func (h DescriptionHeader) String() string {
	return fmt.Sprintf("case=%q evidence=%q examiner=%q", h.CaseNumber, h.EvidenceNumber, h.ExaminerName)
}
