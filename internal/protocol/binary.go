package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Binary payload schema (field-tagged, hand-written — see DESIGN.md for
// why this isn't generated protobuf):
//
//	ProtoRfw { bench_type string; wl_metrics int32; batch_unit int32; batch_id int32; batch_size int32 }
//	ProtoRfd { keys []string; workload []ProtoWorkload }
//	ProtoWorkload { cpu int32; net_in int32; net_out int32; memory float64 }
//
// ProtoWorkload always carries all four slots on the wire; senders
// populate only the slots named in keys, receivers read only the slots
// named in keys. This keeps the row layout stable regardless of which
// columns a given request selected.

func encodeRFWBinary(p RFWPayload) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeString(&buf, p.BenchType); err != nil {
		return nil, err
	}
	writeInt32(&buf, int32(p.MetricsMask))
	writeInt32(&buf, int32(p.BatchUnit))
	writeInt32(&buf, int32(p.BatchID))
	writeInt32(&buf, int32(p.BatchSize))
	return buf.Bytes(), nil
}

func decodeRFWBinary(buf []byte) (RFWPayload, error) {
	r := bytes.NewReader(buf)
	benchType, err := readString(r)
	if err != nil {
		return RFWPayload{}, fmt.Errorf("decode rfw: bench_type: %w", err)
	}
	metrics, err := readInt32(r)
	if err != nil {
		return RFWPayload{}, fmt.Errorf("decode rfw: wl_metrics: %w", err)
	}
	batchUnit, err := readInt32(r)
	if err != nil {
		return RFWPayload{}, fmt.Errorf("decode rfw: batch_unit: %w", err)
	}
	batchID, err := readInt32(r)
	if err != nil {
		return RFWPayload{}, fmt.Errorf("decode rfw: batch_id: %w", err)
	}
	batchSize, err := readInt32(r)
	if err != nil {
		return RFWPayload{}, fmt.Errorf("decode rfw: batch_size: %w", err)
	}
	return RFWPayload{
		BenchType:   benchType,
		MetricsMask: uint8(metrics),
		BatchUnit:   int(batchUnit),
		BatchID:     int(batchID),
		BatchSize:   int(batchSize),
	}, nil
}

// slotIndex maps a column name onto its fixed ProtoWorkload position.
func slotIndex(name string) (int, bool) {
	for i, c := range columnOrder {
		if c.name == name {
			return i, true
		}
	}
	return 0, false
}

func encodeRFDBinary(p RFDPayload) ([]byte, error) {
	var buf bytes.Buffer

	writeUint16(&buf, uint16(len(p.Keys)))
	slots := make([]int, len(p.Keys))
	for i, k := range p.Keys {
		if err := writeString(&buf, k); err != nil {
			return nil, err
		}
		idx, ok := slotIndex(k)
		if !ok {
			return nil, fmt.Errorf("encode rfd: unknown key %q", k)
		}
		slots[i] = idx
	}

	writeUint32(&buf, uint32(len(p.Data)))
	for _, row := range p.Data {
		if len(row) != len(p.Keys) {
			return nil, fmt.Errorf("encode rfd: row has %d values, expected %d", len(row), len(p.Keys))
		}
		var workload [4]float64
		for i, v := range row {
			workload[slots[i]] = v
		}
		writeInt32(&buf, int32(workload[0])) // cpu
		writeInt32(&buf, int32(workload[1])) // net_in
		writeInt32(&buf, int32(workload[2])) // net_out
		writeFloat64(&buf, workload[3])      // memory
	}

	return buf.Bytes(), nil
}

func decodeRFDBinary(buf []byte) (RFDPayload, error) {
	r := bytes.NewReader(buf)

	numKeys, err := readUint16(r)
	if err != nil {
		return RFDPayload{}, fmt.Errorf("decode rfd: keys length: %w", err)
	}
	keys := make([]string, numKeys)
	slots := make([]int, numKeys)
	for i := range keys {
		k, err := readString(r)
		if err != nil {
			return RFDPayload{}, fmt.Errorf("decode rfd: key %d: %w", i, err)
		}
		idx, ok := slotIndex(k)
		if !ok {
			return RFDPayload{}, fmt.Errorf("decode rfd: unknown key %q", k)
		}
		keys[i] = k
		slots[i] = idx
	}

	numRows, err := readUint32(r)
	if err != nil {
		return RFDPayload{}, fmt.Errorf("decode rfd: row count: %w", err)
	}
	data := make([][]float64, numRows)
	for i := range data {
		cpu, err := readInt32(r)
		if err != nil {
			return RFDPayload{}, fmt.Errorf("decode rfd: row %d cpu: %w", i, err)
		}
		netIn, err := readInt32(r)
		if err != nil {
			return RFDPayload{}, fmt.Errorf("decode rfd: row %d net_in: %w", i, err)
		}
		netOut, err := readInt32(r)
		if err != nil {
			return RFDPayload{}, fmt.Errorf("decode rfd: row %d net_out: %w", i, err)
		}
		memory, err := readFloat64(r)
		if err != nil {
			return RFDPayload{}, fmt.Errorf("decode rfd: row %d memory: %w", i, err)
		}
		workload := [4]float64{float64(cpu), float64(netIn), float64(netOut), memory}
		row := make([]float64, len(keys))
		for j, idx := range slots {
			row[j] = workload[idx]
		}
		data[i] = row
	}

	return RFDPayload{Keys: keys, Data: data}, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > math.MaxUint16 {
		return fmt.Errorf("string too long: %d bytes", len(s))
	}
	writeUint16(buf, uint16(len(s)))
	buf.WriteString(s)
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readUint16(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, b); err != nil {
			return "", err
		}
	}
	return string(b), nil
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func readUint16(r *bytes.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func writeInt32(buf *bytes.Buffer, v int32) {
	writeUint32(buf, uint32(v))
}

func readInt32(r *bytes.Reader) (int32, error) {
	v, err := readUint32(r)
	return int32(v), err
}

func writeFloat64(buf *bytes.Buffer, v float64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	buf.Write(b[:])
}

func readFloat64(r *bytes.Reader) (float64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b[:])), nil
}
