package sample

import (
	"strconv"
)

// Wire labels bracketing each value of a record, in channel order, followed
// by the timestamp label and the record terminator.
var labels = [NumChannels + 2]string{
	`{"temp":"`,
	`","hum":"`,
	`","light":"`,
	`","bat":"`,
	`","panel":"`,
	`","co":"`,
	`","no2":"`,
	`","noise":"`,
	`","nets":"`,
	`","timestamp":"`,
	`"}`,
}

// AppendRecord appends the wire form of r to dst.
//
//	{"temp":"231","hum":"452",...,"nets":"3","timestamp":"2026-10-19 10:00:00"}
func AppendRecord(dst []byte, r Reading) []byte {
	for i, v := range r.Values {
		dst = append(dst, labels[i]...)
		dst = strconv.AppendInt(dst, int64(v), 10)
	}
	dst = append(dst, labels[NumChannels]...)
	dst = append(dst, r.Time...)
	return append(dst, labels[NumChannels+1]...)
}

// AppendBatch appends buffered records as an array. A non-nil current
// reading marks the final batch of a flush: it is appended after the buffered
// records before the array is closed.
func AppendBatch(dst []byte, records []Reading, current *Reading) []byte {
	dst = append(dst, '[')
	for i, r := range records {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = AppendRecord(dst, r)
	}
	if current != nil {
		if len(records) > 0 {
			dst = append(dst, ',')
		}
		dst = AppendRecord(dst, *current)
	}
	return append(dst, ']')
}
