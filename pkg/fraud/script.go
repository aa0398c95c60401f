package fraud

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/yuin/gluamapper"
	lua "github.com/yuin/gopher-lua"
)

// scriptVerdict is the table form a script may return: {flag=true, reason="..."}
type scriptVerdict struct {
	Flag   bool
	Reason string
}

// ScriptRule evaluates a Lua script defining a global evaluate(tx) function.
// evaluate returns either a boolean or a verdict table. The Lua state is not
// safe for concurrent use, so calls are serialized.
type ScriptRule struct {
	name string

	mu sync.Mutex
	L  *lua.LState
	fn *lua.LFunction
}

// NewScriptRule compiles source and checks that it defines evaluate
func NewScriptRule(name, source string) (*ScriptRule, error) {
	return newScriptRule(name, func(L *lua.LState) error { return L.DoString(source) })
}

// LoadScriptRule compiles the script at path
func LoadScriptRule(name, path string) (*ScriptRule, error) {
	return newScriptRule(name, func(L *lua.LState) error { return L.DoFile(path) })
}

func newScriptRule(name string, load func(*lua.LState) error) (*ScriptRule, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("script rule requires a name")
	}

	L := lua.NewState()
	if err := load(L); err != nil {
		L.Close()
		return nil, fmt.Errorf("failed to load script %s: %w", name, err)
	}

	fn, ok := L.GetGlobal("evaluate").(*lua.LFunction)
	if !ok {
		L.Close()
		return nil, fmt.Errorf("script %s does not define evaluate(tx)", name)
	}

	return &ScriptRule{name: name, L: L, fn: fn}, nil
}

func (r *ScriptRule) Name() string { return r.name }

// Evaluate calls evaluate(tx) with the transaction as a Lua table
func (r *ScriptRule) Evaluate(ctx context.Context, tx *Transaction) (bool, error) {
	hit, _, err := r.Explain(ctx, tx)
	return hit, err
}

// Explain is Evaluate plus the reason of a verdict table
func (r *ScriptRule) Explain(ctx context.Context, tx *Transaction) (bool, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.L.SetContext(ctx)
	defer r.L.RemoveContext()

	if err := r.L.CallByParam(lua.P{Fn: r.fn, NRet: 1, Protect: true}, r.toTable(tx)); err != nil {
		return false, "", fmt.Errorf("script %s: %w", r.name, err)
	}
	ret := r.L.Get(-1)
	r.L.Pop(1)

	switch v := ret.(type) {
	case lua.LBool:
		return bool(v), "", nil
	case *lua.LTable:
		var verdict scriptVerdict
		if err := gluamapper.Map(v, &verdict); err != nil {
			return false, "", fmt.Errorf("script %s: invalid verdict: %w", r.name, err)
		}
		return verdict.Flag, verdict.Reason, nil
	case *lua.LNilType:
		return false, "", nil
	default:
		return false, "", fmt.Errorf("script %s: evaluate returned %s, want boolean or table", r.name, ret.Type())
	}
}

// Close releases the Lua state
func (r *ScriptRule) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.L.Close()
}

func (r *ScriptRule) toTable(tx *Transaction) *lua.LTable {
	L := r.L
	t := L.NewTable()
	L.SetField(t, "mti", lua.LString(tx.MTI))
	L.SetField(t, "pan", lua.LString(tx.PAN))
	L.SetField(t, "processing_code", lua.LString(tx.ProcessingCode))
	L.SetField(t, "amount_minor", lua.LNumber(tx.AmountMinor))
	L.SetField(t, "amount", lua.LNumber(tx.Amount()))
	L.SetField(t, "currency", lua.LString(tx.Currency))
	L.SetField(t, "stan", lua.LString(tx.STAN))
	L.SetField(t, "rrn", lua.LString(tx.RRN))
	L.SetField(t, "terminal_id", lua.LString(tx.TerminalID))
	L.SetField(t, "merchant_id", lua.LString(tx.MerchantID))
	L.SetField(t, "location", lua.LString(tx.Location))
	L.SetField(t, "merchant_type", lua.LString(tx.MerchantType))
	L.SetField(t, "pos_entry_mode", lua.LString(tx.POSEntryMode))
	L.SetField(t, "timestamp", lua.LNumber(tx.Timestamp.Unix()))

	fields := L.NewTable()
	for n, v := range tx.Fields {
		fields.RawSetInt(n, lua.LString(v))
	}
	L.SetField(t, "fields", fields)
	return t
}
