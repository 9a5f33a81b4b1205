package aws

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Metrics publishes named counts as CloudWatch gauges.
type Metrics struct {
	CloudWatch CloudWatchAPI
	Namespace  string
	Dimensions map[string]string
	nowFunc    func() time.Time
}

// NewMetrics returns a Metrics publisher writing to namespace.
func NewMetrics(client CloudWatchAPI, namespace string, dimensions map[string]string) *Metrics {
	return &Metrics{CloudWatch: client, Namespace: namespace, Dimensions: dimensions, nowFunc: time.Now}
}

// PutCounts publishes every count with unit Count and a shared timestamp.
func (m *Metrics) PutCounts(ctx context.Context, counts map[string]int) error {
	if len(counts) == 0 {
		return nil
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	var dims []cwtypes.Dimension
	for k, v := range m.Dimensions {
		dims = append(dims, cwtypes.Dimension{Name: awsString(k), Value: awsString(v)})
	}
	sort.Slice(dims, func(i, j int) bool { return *dims[i].Name < *dims[j].Name })

	ts := m.nowFunc().UTC()
	data := make([]cwtypes.MetricDatum, 0, len(names))
	for _, name := range names {
		v := float64(counts[name])
		data = append(data, cwtypes.MetricDatum{
			MetricName: awsString(name),
			Value:      &v,
			Unit:       cwtypes.StandardUnitCount,
			Timestamp:  &ts,
			Dimensions: dims,
		})
	}

	_, err := m.CloudWatch.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  &m.Namespace,
		MetricData: data,
	})
	if err != nil {
		return fmt.Errorf("put metric data: %w", err)
	}
	return nil
}
