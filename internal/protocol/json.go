package protocol

import "encoding/json"

type jsonRFW struct {
	BenchType string `json:"bench_type"`
	WLMetrics uint8  `json:"wl_metrics"`
	BatchUnit int    `json:"batch_unit"`
	BatchID   int    `json:"batch_id"`
	BatchSize int    `json:"batch_size"`
}

type jsonRFD struct {
	Keys []string    `json:"keys"`
	Data [][]float64 `json:"data"`
}

func encodeRFWJSON(p RFWPayload) ([]byte, error) {
	return json.Marshal(jsonRFW{
		BenchType: p.BenchType,
		WLMetrics: p.MetricsMask,
		BatchUnit: p.BatchUnit,
		BatchID:   p.BatchID,
		BatchSize: p.BatchSize,
	})
}

func decodeRFWJSON(buf []byte) (RFWPayload, error) {
	var j jsonRFW
	if err := json.Unmarshal(buf, &j); err != nil {
		return RFWPayload{}, err
	}
	return RFWPayload{
		BenchType:   j.BenchType,
		MetricsMask: j.WLMetrics,
		BatchUnit:   j.BatchUnit,
		BatchID:     j.BatchID,
		BatchSize:   j.BatchSize,
	}, nil
}

func encodeRFDJSON(p RFDPayload) ([]byte, error) {
	return json.Marshal(jsonRFD{Keys: p.Keys, Data: p.Data})
}

func decodeRFDJSON(buf []byte) (RFDPayload, error) {
	var j jsonRFD
	if err := json.Unmarshal(buf, &j); err != nil {
		return RFDPayload{}, err
	}
	return RFDPayload{Keys: j.Keys, Data: j.Data}, nil
}
