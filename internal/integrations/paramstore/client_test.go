package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	getOut *ssm.GetParameterOutput
	getErr error
	lastIn *ssm.GetParameterInput
}

func (f *fakeAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.lastIn = in
	return f.getOut, f.getErr
}

func strPtr(s string) *string { return &s }

func valueOut(v string) *ssm.GetParameterOutput {
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: strPtr("p"), Value: strPtr(v)}}
}

func TestGetParameter_DecryptsAndTrimsName(t *testing.T) {
	api := &fakeAPI{getOut: valueOut("gpt-4o-mini")}
	client, err := New(api)
	require.NoError(t, err)

	v, err := client.GetParameter(context.Background(), "  /expense-agent/model ")
	require.NoError(t, err)
	require.Equal(t, "gpt-4o-mini", v)
	require.Equal(t, "/expense-agent/model", *api.lastIn.Name)
	require.True(t, *api.lastIn.WithDecryption)
}

func TestGetParameter_Errors(t *testing.T) {
	client, err := New(&fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: strPtr("p")}}})
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "missing value")

	client, err = New(&fakeAPI{getErr: errors.New("boom")})
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "boom")

	_, err = client.GetParameter(context.Background(), "  ")
	require.ErrorContains(t, err, "required")

	_, err = (&Client{}).GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "not initialized")
}

func TestGetToken(t *testing.T) {
	client, err := New(&fakeAPI{getOut: valueOut(`{"token":" sk-123 "}`)})
	require.NoError(t, err)
	token, err := client.GetToken(context.Background(), "/expense-agent/openai-token")
	require.NoError(t, err)
	require.Equal(t, "sk-123", token)
}

func TestGetToken_InvalidPayloads(t *testing.T) {
	cases := map[string]string{
		"not json":      `sk-raw`,
		"missing token": `{"other":"value"}`,
		"blank token":   `{"token":"  "}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			client, err := New(&fakeAPI{getOut: valueOut(raw)})
			require.NoError(t, err)
			_, err = client.GetToken(context.Background(), "p")
			require.Error(t, err)
		})
	}
}

func TestStaticToken(t *testing.T) {
	token, err := StaticToken("sk-local").GetToken(context.Background(), "ignored")
	require.NoError(t, err)
	require.Equal(t, "sk-local", token)

	_, err = StaticToken("").GetToken(context.Background(), "ignored")
	require.Error(t, err)
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil)
	require.ErrorContains(t, err, "must not be nil")
}
