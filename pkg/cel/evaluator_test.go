package cel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	e, err := NewEvaluator()
	require.NoError(t, err)

	vars := map[string]interface{}{
		"id":       "<m1@example.com>",
		"subject":  "Your order shipped",
		"sender":   "noreply@shop.example",
		"body":     "tracking number inside",
		"language": "en",
	}

	got, err := e.Evaluate(context.Background(), `subject.contains("shipped")`, vars)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = e.Evaluate(context.Background(), `sender.endsWith("@concerts.example")`, vars)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestValidateExpression(t *testing.T) {
	e, err := NewEvaluator()
	require.NoError(t, err)

	assert.NoError(t, e.ValidateExpression(`subject.contains("x") && language == "en"`))
	assert.Error(t, e.ValidateExpression(`subject +`), "syntax error")
	assert.Error(t, e.ValidateExpression(`subject`), "non-bool result")
	assert.Error(t, e.ValidateExpression(`unknown_var == "x"`), "undeclared variable")
}
