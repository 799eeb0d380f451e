package service

type positionsResponse struct {
	envelope
	Data []struct {
		InstId   string `json:"instId"`
		InstType string `json:"instType"`
		MgnMode  string `json:"mgnMode"`
		Pos      string `json:"pos"`
		PosSide  string `json:"posSide"`
		AvgPx    string `json:"avgPx"`
		MarkPx   string `json:"markPx"`
		Last     string `json:"last"`
		UTime    string `json:"uTime"`
	} `json:"data"`
}

type algoOrder struct {
	AlgoId          string `json:"algoId"`
	AlgoClOrdId     string `json:"algoClOrdId"`
	InstId          string `json:"instId"`
	OrdType         string `json:"ordType"`
	Side            string `json:"side"`
	PosSide         string `json:"posSide"`
	Sz              string `json:"sz"`
	ReduceOnly      string `json:"reduceOnly"`
	TpTriggerPx     string `json:"tpTriggerPx"`
	TpTriggerPxType string `json:"tpTriggerPxType"`
	SlTriggerPx     string `json:"slTriggerPx"`
	SlTriggerPxType string `json:"slTriggerPxType"`
	State           string `json:"state"`
}

type algoOrdersResponse struct {
	envelope
	Data []algoOrder `json:"data"`
}

type pendingOrder struct {
	OrdId      string `json:"ordId"`
	ClOrdId    string `json:"clOrdId"`
	InstId     string `json:"instId"`
	OrdType    string `json:"ordType"`
	Side       string `json:"side"`
	PosSide    string `json:"posSide"`
	Px         string `json:"px"`
	Sz         string `json:"sz"`
	AccFillSz  string `json:"accFillSz"`
	ReduceOnly string `json:"reduceOnly"`
}

type pendingOrdersResponse struct {
	envelope
	Data []pendingOrder `json:"data"`
}

// actionResponse is returned by order-algo and cancel-algos.
type actionResponse struct {
	envelope
	Data []struct {
		AlgoId      string `json:"algoId"`
		AlgoClOrdId string `json:"algoClOrdId"`
		SCode       string `json:"sCode"`
		SMsg        string `json:"sMsg"`
	} `json:"data"`
}

// status prefers the per-order sCode, which carries the real reject reason.
func (r actionResponse) status() (string, string) {
	if len(r.Data) > 0 && r.Data[0].SCode != "" && r.Data[0].SCode != "0" {
		return r.Data[0].SCode, r.Data[0].SMsg
	}
	return r.Code, r.Msg
}

type Instrument struct {
	InstID string `json:"instId"`
	TickSz string `json:"tickSz"`
	LotSz  string `json:"lotSz"`
	MinSz  string `json:"minSz"`
	CtVal  string `json:"ctVal"`
	CtMult string `json:"ctMult"`
	State  string `json:"state"`
}

type instrumentsResponse struct {
	envelope
	Data []Instrument `json:"data"`
}

type balanceResponse struct {
	envelope
	Data []struct {
		TotalEq string `json:"totalEq"`
		UTime   string `json:"uTime"`
	} `json:"data"`
}
