package research

import (
	"encoding/json"
	"testing"

	"deepscout/internal/llm"

	"github.com/stretchr/testify/require"
)

func scriptResp(t *testing.T, v any) llm.Response {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return llm.Response{Raw: data, Tokens: 5}
}
