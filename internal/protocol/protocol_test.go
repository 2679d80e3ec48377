package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := RFWHeader{RFWID: 42, Protocol: JSON, PayloadSize: 128}
	buf := EncodeRFWHeader(h)
	require.Len(t, buf, RFWHeaderSize)

	got, err := DecodeRFWHeader(buf)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestRFDHeaderNOPSentinel(t *testing.T) {
	buf := EncodeRFDHeader(NewNOPHeader())
	require.Len(t, buf, RFDHeaderSize)

	got, err := DecodeRFDHeader(buf)
	require.NoError(t, err)
	require.Equal(t, MarkerNOP, got.Marker)
}

func TestRFDHeaderInvalidMarker(t *testing.T) {
	buf := EncodeRFDHeader(RFDHeader{Marker: "XXX", Protocol: JSON})
	_, err := DecodeRFDHeader(buf)
	require.Error(t, err)
}

func TestRFWHeaderInvalidProtocol(t *testing.T) {
	buf := EncodeRFWHeader(RFWHeader{RFWID: 1, Protocol: "ZZZZ"})
	_, err := DecodeRFWHeader(buf)
	require.Error(t, err)
}

func TestSelectedColumnsOrder(t *testing.T) {
	mask := MaskCPU | MaskNetIn | MaskMemory
	require.Equal(t, []string{"cpu", "net_in", "memory"}, SelectedColumns(mask))
}

func TestValidMaskRejectsZero(t *testing.T) {
	require.Error(t, ValidMask(0))
	require.NoError(t, ValidMask(MaskCPU))
}

func TestResolveProtocolFallsBackToJSON(t *testing.T) {
	require.Equal(t, BUFF, ResolveProtocol("BUFF"))
	require.Equal(t, JSON, ResolveProtocol("JSON"))
	require.Equal(t, JSON, ResolveProtocol("garbage"))
}

func TestRFWPayloadJSONRoundTrip(t *testing.T) {
	p := RFWPayload{BenchType: "DVD-training", MetricsMask: MaskCPU | MaskMemory, BatchUnit: 100, BatchID: 0, BatchSize: 5}
	buf, err := EncodeRFWPayload(JSON, p)
	require.NoError(t, err)
	got, err := DecodeRFWPayload(JSON, buf)
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestRFWPayloadBinaryRoundTrip(t *testing.T) {
	p := RFWPayload{BenchType: "DVD-training", MetricsMask: MaskCPU | MaskMemory, BatchUnit: 100, BatchID: 0, BatchSize: 5}
	buf, err := EncodeRFWPayload(BUFF, p)
	require.NoError(t, err)
	got, err := DecodeRFWPayload(BUFF, buf)
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestRFDPayloadEncodingEquivalence(t *testing.T) {
	p := RFDPayload{
		Keys: []string{"cpu", "net_in", "memory"},
		Data: [][]float64{
			{10, 20, 3.5},
			{11, 21, 3.6},
		},
	}

	jsonBuf, err := EncodeRFDPayload(JSON, p)
	require.NoError(t, err)
	jsonGot, err := DecodeRFDPayload(JSON, jsonBuf)
	require.NoError(t, err)

	binBuf, err := EncodeRFDPayload(BUFF, p)
	require.NoError(t, err)
	binGot, err := DecodeRFDPayload(BUFF, binBuf)
	require.NoError(t, err)

	require.Equal(t, jsonGot, binGot)
	require.Equal(t, p.Keys, jsonGot.Keys)
	require.InDeltaSlice(t, flatten(p.Data), flatten(jsonGot.Data), 0.0001)
}

func TestRFDPayloadBinaryIgnoresDisabledSlots(t *testing.T) {
	p := RFDPayload{Keys: []string{"net_out"}, Data: [][]float64{{7}}}
	buf, err := EncodeRFDPayload(BUFF, p)
	require.NoError(t, err)
	got, err := DecodeRFDPayload(BUFF, buf)
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func flatten(rows [][]float64) []float64 {
	var out []float64
	for _, r := range rows {
		out = append(out, r...)
	}
	return out
}
