package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WritePoint queues one point. Points without fields, and every point
// after Close, are dropped; write failures surface through SetOnError.
//
//	client.WritePoint("room_values",
//	    map[string]string{"node": "kitchen", "object": "thermo", "key": "temperature"},
//	    map[string]any{"value": 21.5},
//	    time.Now())
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	if !c.IsConnected() || len(fields) == 0 {
		points.WithLabelValues("dropped").Inc()
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, ts))
	points.WithLabelValues("queued").Inc()
}
