package fraud

import (
	"bytes"
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptRuleBoolean(t *testing.T) {
	rule, err := NewScriptRule("NIGHT_ATM", `
function evaluate(tx)
  return tx.merchant_type == "6011" and tx.amount > 500
end
`)
	require.NoError(t, err)
	defer rule.Close()

	hit, err := rule.Evaluate(context.Background(), &Transaction{MerchantType: "6011", AmountMinor: 60000})
	require.NoError(t, err)
	assert.True(t, hit)

	hit, err = rule.Evaluate(context.Background(), &Transaction{MerchantType: "5411", AmountMinor: 60000})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "NIGHT_ATM", rule.Name())
}

func TestScriptRuleVerdictTable(t *testing.T) {
	rule, err := NewScriptRule("FOREIGN_CCY", `
function evaluate(tx)
  if tx.currency ~= "ZAR" then
    return {flag = true, reason = "currency " .. tx.currency}
  end
  return {flag = false}
end
`)
	require.NoError(t, err)
	defer rule.Close()

	hit, reason, err := rule.Explain(context.Background(), &Transaction{Currency: "USD"})
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "currency USD", reason)

	hit, reason, err = rule.Explain(context.Background(), &Transaction{Currency: "ZAR"})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Empty(t, reason)

	var logs bytes.Buffer
	d, err := NewEngine(log.New(&logs, "", 0), rule).Evaluate(context.Background(), &Transaction{PAN: "4111111111111111", STAN: "000042", Currency: "EUR"})
	require.NoError(t, err)
	assert.Equal(t, []string{"FOREIGN_CCY"}, d.Annotations)
	assert.Contains(t, logs.String(), "rule FOREIGN_CCY flagged pan=411111******1111 stan=000042: currency EUR")
}

func TestScriptRuleSeesRawFields(t *testing.T) {
	rule, err := NewScriptRule("TERMINAL", `
function evaluate(tx)
  return tx.fields[41] == "BAIBG301"
end
`)
	require.NoError(t, err)
	defer rule.Close()

	hit, err := rule.Evaluate(context.Background(), &Transaction{Fields: map[int]string{41: "BAIBG301"}})
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestScriptRuleErrors(t *testing.T) {
	_, err := NewScriptRule("BAD", "function evaluate(tx")
	assert.Error(t, err)

	_, err = NewScriptRule("MISSING", "x = 1")
	assert.ErrorContains(t, err, "does not define evaluate")

	_, err = NewScriptRule("", "function evaluate(tx) return false end")
	assert.Error(t, err)

	rule, err := NewScriptRule("RAISES", `function evaluate(tx) error("boom") end`)
	require.NoError(t, err)
	defer rule.Close()
	_, err = rule.Evaluate(context.Background(), &Transaction{})
	assert.ErrorContains(t, err, "boom")

	wrongType, err := NewScriptRule("NUMBER", `function evaluate(tx) return 42 end`)
	require.NoError(t, err)
	defer wrongType.Close()
	_, err = wrongType.Evaluate(context.Background(), &Transaction{})
	assert.ErrorContains(t, err, "want boolean or table")
}

func TestLoadScriptRule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rule.lua")
	require.NoError(t, os.WriteFile(path, []byte(`function evaluate(tx) return tx.pan == "4111111111111111" end`), 0644))

	rule, err := LoadScriptRule("PAN_BLOCK", path)
	require.NoError(t, err)
	defer rule.Close()

	hit, err := rule.Evaluate(context.Background(), &Transaction{PAN: "4111111111111111"})
	require.NoError(t, err)
	assert.True(t, hit)

	_, err = LoadScriptRule("MISSING", filepath.Join(t.TempDir(), "nope.lua"))
	assert.Error(t, err)
}

func TestScriptRuleConcurrentUse(t *testing.T) {
	rule, err := NewScriptRule("BIG", `function evaluate(tx) return tx.amount_minor > 100 end`)
	require.NoError(t, err)
	defer rule.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				hit, err := rule.Evaluate(context.Background(), &Transaction{AmountMinor: int64(i * 50)})
				assert.NoError(t, err)
				assert.Equal(t, i*50 > 100, hit)
			}
		}(i)
	}
	wg.Wait()
}
