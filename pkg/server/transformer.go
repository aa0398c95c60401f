package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aeolun/fraudengine/pkg/fraud"
	"github.com/aeolun/fraudengine/pkg/protocol"
)

// Evaluator decides on a transaction (implemented by fraud.Engine)
type Evaluator interface {
	Evaluate(ctx context.Context, tx *fraud.Transaction) (fraud.Decision, error)
}

// Recorder persists a processed transaction (implemented by database.DB)
type Recorder interface {
	Record(ctx context.Context, tx *fraud.Transaction, decision fraud.Decision) error
}

// ApprovedMarker is the field 44 value of an approved response
const ApprovedMarker = "APPROVED"

// stanLayout generates field 11 from the clock when a request has none
const stanLayout = "150405"

var errNoEvaluator = errors.New("no evaluator configured")

// Transformer turns a decoded request into its response message
type Transformer struct {
	evaluator Evaluator
	recorder  Recorder
	registry  *protocol.Registry
	now       func() time.Time
}

// NewTransformer creates a transformer. recorder may be nil.
func NewTransformer(evaluator Evaluator, recorder Recorder, registry *protocol.Registry) *Transformer {
	return &Transformer{
		evaluator: evaluator,
		recorder:  recorder,
		registry:  registry,
		now:       time.Now,
	}
}

// Transform evaluates req and builds the response. Evaluation and recording
// happen synchronously; any error from them is returned and no response is
// built.
func (t *Transformer) Transform(ctx context.Context, req *protocol.Message, raw []byte) (*protocol.Message, error) {
	now := t.now().UTC()

	if protocol.IsNetworkManagement(req.MTI) {
		return t.respond(req, now, protocol.ResponseApproved, ""), nil
	}

	if t.evaluator == nil {
		return nil, errNoEvaluator
	}

	tx := TransactionFromMessage(req, raw, now)
	decision, err := t.evaluator.Evaluate(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}

	if t.recorder != nil {
		if err := t.recorder.Record(ctx, tx, decision); err != nil {
			return nil, fmt.Errorf("record: %w", err)
		}
	}

	var annotation string
	if decision.Flagged() {
		annotation = t.encodeAnnotations(decision.Annotations)
	} else {
		annotation = ApprovedMarker
	}
	return t.respond(req, now, decision.ResponseCode(), annotation), nil
}

// respond builds the response from a copy of the request. An empty
// annotation leaves field 44 unset.
func (t *Transformer) respond(req *protocol.Message, now time.Time, code, annotation string) *protocol.Message {
	resp := req.Clone()
	resp.MTI = protocol.ResponseMTI(req.MTI)
	resp.Set(protocol.FieldResponseCode, code)

	resp.Unset(protocol.FieldAdditionalResponse)
	if annotation != "" {
		resp.Set(protocol.FieldAdditionalResponse, annotation)
	}

	resp.Unset(protocol.FieldOriginalData)
	resp.Unset(protocol.FieldReservedPrivate127)

	if !resp.Has(protocol.FieldTransmissionDateTime) {
		resp.Set(protocol.FieldTransmissionDateTime, protocol.FormatTransmissionTime(now))
	}
	if !resp.Has(protocol.FieldSTAN) {
		resp.Set(protocol.FieldSTAN, now.Format(stanLayout))
	}
	return resp
}

// encodeAnnotations renders rule names as a JSON array, keeping as many
// leading names as fit field 44
func (t *Transformer) encodeAnnotations(names []string) string {
	limit := 25
	if spec, ok := t.registry.Describe(protocol.FieldAdditionalResponse); ok {
		limit = spec.MaxLength()
	}

	var best string
	for i := 1; i <= len(names); i++ {
		encoded, err := json.Marshal(names[:i])
		if err != nil || len(encoded) > limit {
			break
		}
		best = string(encoded)
	}
	return best
}

// TransactionFromMessage maps a decoded request to the domain transaction
func TransactionFromMessage(m *protocol.Message, raw []byte, now time.Time) *fraud.Transaction {
	fields := make(map[int]string, m.Len())
	for _, n := range m.Fields() {
		fields[n] = m.Value(n)
	}

	pan := m.Value(protocol.FieldPAN)
	if pan == "" {
		pan = protocol.ExtractPAN(m.Value(protocol.FieldTrack2))
	}

	return &fraud.Transaction{
		MTI:                   m.MTI,
		Timestamp:             protocol.ParseTransmissionTime(m.Value(protocol.FieldTransmissionDateTime), now),
		PAN:                   pan,
		ProcessingCode:        m.Value(protocol.FieldProcessingCode),
		AmountMinor:           protocol.ParseAmountMinor(m.Value(protocol.FieldAmount)),
		Currency:              protocol.CurrencyAlpha(m.Value(protocol.FieldCurrencyCode)),
		STAN:                  m.Value(protocol.FieldSTAN),
		RRN:                   strings.TrimSpace(m.Value(protocol.FieldRRN)),
		TerminalID:            strings.TrimSpace(m.Value(protocol.FieldTerminalID)),
		MerchantID:            strings.TrimSpace(m.Value(protocol.FieldMerchantID)),
		Location:              strings.TrimSpace(m.Value(protocol.FieldMerchantLocation)),
		MerchantType:          m.Value(protocol.FieldMerchantType),
		POSEntryMode:          m.Value(protocol.FieldPOSEntryMode),
		POSConditionCode:      m.Value(protocol.FieldPOSConditionCode),
		AcquiringInstitution:  m.Value(protocol.FieldAcquiringInstitution),
		ForwardingInstitution: m.Value(protocol.FieldForwardingInstitution),
		Fields:                fields,
		Raw:                   raw,
	}
}
