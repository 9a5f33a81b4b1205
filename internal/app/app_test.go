package app

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/photo-orderflow/internal/aws"
	"github.com/imrishuroy/photo-orderflow/internal/config"
	"github.com/imrishuroy/photo-orderflow/internal/lifecycle"
	"github.com/imrishuroy/photo-orderflow/internal/orders"
	"github.com/imrishuroy/photo-orderflow/internal/store"
)

type mockSQS struct {
	mu   sync.Mutex
	sent []*sqs.SendMessageInput
}

func (m *mockSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, in)
	return &sqs.SendMessageOutput{}, nil
}

type mockCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
}

func (m *mockCloudWatch) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.inputs = append(m.inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func testConfig() config.Config {
	return config.Config{
		Backend:          config.BackendMemory,
		Retention:        24 * time.Hour,
		SweepInterval:    time.Minute,
		QueueURL:         "https://sqs.eu-west-3.amazonaws.com/123/order-events.fifo",
		MetricsNamespace: "PhotoOrders",
		Stage:            "test",
		Location:         time.UTC,
	}
}

func build(t *testing.T) (*App, *mockSQS, *mockCloudWatch) {
	t.Helper()
	sq, cw := &mockSQS{}, &mockCloudWatch{}
	a, err := Build(context.Background(), testConfig(), nil,
		WithBackend(store.NewMemoryBackend()),
		WithAWSClients(&aws.AWSClients{SQS: sq, CloudWatch: cw}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, sq, cw
}

func TestCheckoutToPickup(t *testing.T) {
	a, sq, _ := build(t)
	ctx := context.Background()

	rec, err := a.Sessions.ResumeOrCreate(ctx, "sess-1")
	require.NoError(t, err)
	ref := rec.Reference

	// 20x30 prints are 3.00 each
	_, err = a.Sessions.AddItem(ctx, ref, orders.Item{ID: "p1", Product: "20x30", Quantity: 2})
	require.NoError(t, err)
	_, err = a.Sessions.UpdateEmail(ctx, ref, "alice@example.com")
	require.NoError(t, err)

	rec, err = a.Machine.Transition(ctx, ref, orders.StateUnpaid, lifecycle.Input{})
	require.NoError(t, err)
	assert.Equal(t, orders.AreaFinal, rec.Area)
	assert.Equal(t, ref, rec.Reference)
	assert.True(t, decimal.NewFromInt(6).Equal(rec.AmountTotal))

	_, err = a.Machine.Transition(ctx, ref, orders.StatePaid,
		lifecycle.Input{PaymentMethod: "card", Amount: decimal.RequireFromString("6.00")})
	require.NoError(t, err)

	n, err := a.Stats.CountPendingRetrievals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for _, s := range []orders.State{orders.StateValidated, orders.StateExported, orders.StateRetrieved} {
		_, err = a.Machine.Transition(ctx, ref, s, lifecycle.Input{})
		require.NoError(t, err)
	}
	n, err = a.Stats.CountPendingRetrievals(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.Len(t, sq.sent, 5)
	var first EventMessage
	require.NoError(t, json.Unmarshal([]byte(*sq.sent[0].MessageBody), &first))
	assert.Equal(t, ref, first.Reference)
	assert.Equal(t, orders.StateDraft, first.From)
	assert.Equal(t, orders.StateUnpaid, first.To)
	assert.Equal(t, "alice@example.com", first.ContactEmail)
	assert.Equal(t, "6.00", first.AmountTotal)
	assert.Equal(t, "order.unpaid", *sq.sent[0].MessageAttributes["event_type"].StringValue)
	assert.Equal(t, ref+":unpaid", *sq.sent[0].MessageDeduplicationId)
}

func TestPublishBadges(t *testing.T) {
	a, _, cw := build(t)
	ctx := context.Background()

	_, err := a.Sessions.ResumeOrCreate(ctx, "sess-1")
	require.NoError(t, err)

	b, err := a.PublishBadges(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Drafts)

	require.Len(t, cw.inputs, 1)
	assert.Equal(t, "PhotoOrders", *cw.inputs[0].Namespace)
	assert.Len(t, cw.inputs[0].MetricData, len(b.Values()))
}

func TestBuild_FilesBackend(t *testing.T) {
	cfg := config.Config{Backend: config.BackendFiles, DataDir: t.TempDir(), Location: time.UTC}
	a, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, a.Metrics)

	rec, err := a.Sessions.ResumeOrCreate(context.Background(), "s")
	require.NoError(t, err)
	_, err = a.Store.LoadFrom(context.Background(), orders.AreaTemp, rec.Reference)
	assert.NoError(t, err)
}

func TestBuild_BadPricingFile(t *testing.T) {
	cfg := config.Config{Backend: config.BackendMemory, PricingFile: "/does/not/exist.yaml"}
	_, err := Build(context.Background(), cfg, nil)
	assert.Error(t, err)
}
