// Package influxdb exports successful meter readings to InfluxDB v2.
//
// The poller itself keeps only a short in-memory history; long-term trends
// live in the bucket configured under the influxdb section. Each reading is
// one meter_reading point tagged by utility, cabinet and groups, with one
// field per register category.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteReading(influxdb.Reading{
//	    UtilityID: "cab1_node1",
//	    Fields:    map[string]float64{"voltage_l1_n": 231.4},
//	    Timestamp: time.Now(),
//	})
//
// Writes never block the polling loop: points are batched by the client
// library and failures are reported through SetOnError.
package influxdb
