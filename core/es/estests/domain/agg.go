package domain

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/codewandler/esengine/core/es"
)

type testAggKind struct{}

func (testAggKind) IDType() string { return "test_agg_id" }

type TestAggID = es.ID[testAggKind]

func NewTestAggID(id string) TestAggID { return es.MustID[testAggKind](id) }

type (
	TestAgg struct {
		es.BaseAggregate

		Counter        uint16 `json:"counter"`
		NumIncrements  int    `json:"num_increments"`
		NumResets      int    `json:"num_resets"`
		NumTotalEvents int    `json:"num_total_events"`
		Value          string `json:"value"`
	}

	Incremented struct {
		Inc   uint8 `json:"inc,omitempty"`
		Reset bool  `json:"reset,omitempty"`
	}

	ValueChanged struct {
		Value string `json:"value"`
	}

	// Touched has no handler: it is stored and replayed but changes nothing.
	Touched struct {
		By string `json:"by"`
	}
)

func (e *ValueChanged) Validate() error {
	if e.Value == "" {
		return errors.New("value must not be empty")
	}
	return nil
}

var TestAggDef = es.Define[*TestAgg, testAggKind](
	"test_agg",
	func() *TestAgg { return &TestAgg{} },
	es.On(func(a *TestAgg, e *Incremented) {
		a.NumTotalEvents++

		if e.Inc > 0 {
			a.Counter += uint16(e.Inc)
			a.NumIncrements += 1
		}

		if e.Reset {
			a.Counter = 0
			a.NumResets++
		}
	}),
	es.On(func(a *TestAgg, e *ValueChanged) {
		a.NumTotalEvents++
		a.Value = e.Value
	}),
)

func (a *TestAgg) Snapshot() (data []byte, err error) { return json.Marshal(a) }
func (a *TestAgg) RestoreSnapshot(data []byte) error  { return json.Unmarshal(data, a) }

var _ es.Snapshottable = &TestAgg{}

func NewTestAgg(id string) (*TestAgg, error) { return TestAggDef.Create(NewTestAggID(id)) }

// === Commands ===

func (a *TestAgg) Reset() error { return a.Raise(&Incremented{Reset: true}) }
func (a *TestAgg) Inc() error   { return a.IncBy(1) }
func (a *TestAgg) IncBy(v uint8) error {
	if a.Counter+uint16(v) > 24 {
		return fmt.Errorf("counter cannot exceed 24")
	}
	return a.Raise(&Incremented{Inc: v})
}
func (a *TestAgg) SetValue(v string) error { return a.Raise(&ValueChanged{Value: v}) }
func (a *TestAgg) Touch(by string) error   { return a.Raise(&Touched{By: by}) }

// === Read ===

func (a *TestAgg) Count() int {
	return int(a.Counter)
}
