package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apierrors "obsidian/internal/errors"
	"obsidian/internal/services"
	"obsidian/internal/storage"
)

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Generate(ctx context.Context, req services.GenerateRequest, source string) ([]storage.SerialKey, error) {
	args := m.Called(req, source)
	if keys := args.Get(0); keys != nil {
		return keys.([]storage.SerialKey), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    options
		wantErr bool
	}{
		{
			name: "defaults",
			want: options{amount: 1, format: "text"},
		},
		{
			name: "timed batch",
			args: []string{"-amount", "5", "-order", "ord_9", "-minutes", "43200", "-format", "csv"},
			want: options{amount: 5, orderID: "ord_9", minutes: 43200, format: "csv"},
		},
		{
			name:    "negative minutes",
			args:    []string{"-minutes", "-5"},
			wantErr: true,
		},
		{
			name:    "unknown format",
			args:    []string{"-format", "xml"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFlags(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOptionsRequest(t *testing.T) {
	lifetime := options{amount: 2, orderID: " ord_1 "}.request()
	assert.Equal(t, "ord_1", lifetime.OrderID)
	assert.Nil(t, lifetime.DurationMinutes)

	timed := options{amount: 1, minutes: 60}.request()
	require.NotNil(t, timed.DurationMinutes)
	assert.Equal(t, 60, *timed.DurationMinutes)
}

func TestRun(t *testing.T) {
	keys := []storage.SerialKey{
		{Serial: "ABCDEFGHJKMNPQRS", OrderID: "ord_1"},
		{Serial: "BCDEFGHJKMNPQRST", OrderID: "ord_1"},
	}
	req := services.GenerateRequest{OrderID: "ord_1", Amount: 2}

	t.Run("text", func(t *testing.T) {
		gen := new(mockGenerator)
		gen.On("Generate", req, services.SourceCLI).Return(keys, nil)

		var out bytes.Buffer
		require.NoError(t, run(context.Background(), options{amount: 2, orderID: "ord_1", format: "text"}, gen, &out))
		assert.Equal(t, "ABCDEFGHJKMNPQRS\nBCDEFGHJKMNPQRST\n", out.String())
		gen.AssertExpectations(t)
	})

	t.Run("csv", func(t *testing.T) {
		gen := new(mockGenerator)
		gen.On("Generate", req, services.SourceCLI).Return(keys, nil)

		var out bytes.Buffer
		require.NoError(t, run(context.Background(), options{amount: 2, orderID: "ord_1", format: "csv"}, gen, &out))
		lines := strings.Split(strings.TrimSpace(out.String()), "\n")
		require.Len(t, lines, 3)
		assert.True(t, strings.HasPrefix(lines[0], "Serial,Order"))
		assert.True(t, strings.HasPrefix(lines[1], "ABCDEFGHJKMNPQRS,ord_1"))
	})

	t.Run("generation fails", func(t *testing.T) {
		gen := new(mockGenerator)
		gen.On("Generate", services.GenerateRequest{Amount: 51}, services.SourceCLI).Return(nil, apierrors.ErrAmountTooLarge)

		var out bytes.Buffer
		err := run(context.Background(), options{amount: 51, format: "text"}, gen, &out)
		assert.ErrorIs(t, err, apierrors.ErrAmountTooLarge)
		assert.Empty(t, out.String())
	})
}
