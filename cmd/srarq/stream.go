package main

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

const (
	recordHeaderLength = 4
	recordChunkSize    = 4096
)

// The connection pads the last packet of every write with zeros, so the
// input travels as records: a big-endian length, the data, then padding up
// to a whole number of payloads. An empty record ends the stream.

func recordSize(n, payloadSize int) int {
	return (recordHeaderLength + n + payloadSize - 1) / payloadSize * payloadSize
}

func writeRecord(dst io.Writer, data []byte, payloadSize int) error {
	record := make([]byte, recordSize(len(data), payloadSize))
	binary.BigEndian.PutUint32(record, uint32(len(data)))
	copy(record[recordHeaderLength:], data)
	_, err := dst.Write(record)
	return errors.Wrap(err, "write record")
}

// writeRecords copies src to dst as records and terminates the stream.
func writeRecords(dst io.Writer, src io.Reader, payloadSize int) (int64, error) {
	chunk := make([]byte, recordChunkSize)
	var total int64
	for {
		n, err := src.Read(chunk)
		if n > 0 {
			if werr := writeRecord(dst, chunk[:n], payloadSize); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if err == io.EOF {
			return total, writeRecord(dst, nil, payloadSize)
		}
		if err != nil {
			return total, errors.Wrap(err, "read input")
		}
	}
}

// readRecords copies the data of each record from src to dst and returns
// once the terminating record has been read.
func readRecords(dst io.Writer, src io.Reader, payloadSize int) (int64, error) {
	header := make([]byte, recordHeaderLength)
	var total int64
	for {
		if _, err := io.ReadFull(src, header); err != nil {
			return total, errors.Wrap(err, "read record header")
		}
		n := int(binary.BigEndian.Uint32(header))
		if n == 0 {
			return total, nil
		}
		if n > recordChunkSize {
			return total, errors.Errorf("record of %d bytes exceeds %d", n, recordChunkSize)
		}

		body := make([]byte, recordSize(n, payloadSize)-recordHeaderLength)
		if _, err := io.ReadFull(src, body); err != nil {
			return total, errors.Wrap(err, "read record")
		}
		if _, err := dst.Write(body[:n]); err != nil {
			return total, errors.Wrap(err, "write output")
		}
		total += int64(n)
	}
}

// activityReader signals on activity every time a read returns data.
type activityReader struct {
	r        io.Reader
	activity chan<- struct{}
}

func (a activityReader) Read(p []byte) (int, error) {
	n, err := a.r.Read(p)
	if n > 0 {
		select {
		case a.activity <- struct{}{}:
		default:
		}
	}
	return n, err
}
