// Package forward mirrors ingested reports into an InfluxDB 1.x database.
package forward

import (
	"context"
	"sync"
	"time"

	client "github.com/influxdata/influxdb1-client/v2"
	"github.com/sirupsen/logrus"

	"github.com/saveenergy/pagevitals/pkg/types"
)

type Forwarder struct {
	Client    client.Client
	Config    Config
	BatchConf client.BatchPointsConfig

	logger     logrus.FieldLogger
	buffer     []types.Report
	bufferLock sync.Mutex
}

func New(conf Config, logger logrus.FieldLogger) (*Forwarder, error) {
	conf = NewConfig().Apply(conf)
	cl, err := client.NewHTTPClient(client.HTTPConfig{
		Addr:               conf.Addr.String,
		Username:           conf.Username.String,
		Password:           conf.Password.String,
		UserAgent:          "pagevitals",
		Timeout:            10 * time.Second,
		InsecureSkipVerify: conf.Insecure.Bool,
	})
	if err != nil {
		return nil, err
	}
	return &Forwarder{
		Client: cl,
		Config: conf,
		BatchConf: client.BatchPointsConfig{
			Precision:        conf.Precision.String,
			Database:         conf.DB.String,
			RetentionPolicy:  conf.Retention.String,
			WriteConsistency: conf.Consistency.String,
		},
		logger: logger.WithField("output", "influxdb"),
	}, nil
}

// Init creates the database. A failure usually means the user lacks admin
// rights on an existing database and is only logged.
func (f *Forwarder) Init() {
	_, err := f.Client.Query(client.NewQuery("CREATE DATABASE "+f.BatchConf.Database, "", ""))
	if err != nil {
		f.logger.WithError(err).Debug("Couldn't create database; most likely harmless")
	}
}

// Run commits buffered reports every push interval until ctx is done, then
// commits once more and closes the client.
func (f *Forwarder) Run(ctx context.Context) error {
	f.logger.Debug("Running")
	ticker := time.NewTicker(f.Config.Interval())
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			f.commit()
		case <-ctx.Done():
			f.commit()
			return f.Client.Close()
		}
	}
}

// Collect queues a report for the next commit.
func (f *Forwarder) Collect(report types.Report) {
	f.bufferLock.Lock()
	defer f.bufferLock.Unlock()
	f.buffer = append(f.buffer, report)
}

// Pending returns the number of reports waiting for the next commit.
func (f *Forwarder) Pending() int {
	f.bufferLock.Lock()
	defer f.bufferLock.Unlock()
	return len(f.buffer)
}

func (f *Forwarder) commit() {
	f.bufferLock.Lock()
	reports := f.buffer
	f.buffer = nil
	f.bufferLock.Unlock()

	if len(reports) == 0 {
		return
	}

	batch, err := f.batchFromReports(reports)
	if err != nil {
		return
	}

	f.logger.WithField("points", len(batch.Points())).Debug("Writing...")
	startTime := time.Now()
	if err := f.Client.Write(batch); err != nil {
		f.logger.WithError(err).Error("Couldn't write vitals")
		return
	}
	f.logger.WithField("t", time.Since(startTime)).Debug("Batch written")
}

// batchFromReports turns every sample into a point named after the metric,
// tagged with page URL and rating. Numeric extras become extra fields.
func (f *Forwarder) batchFromReports(reports []types.Report) (client.BatchPoints, error) {
	batch, err := client.NewBatchPoints(f.BatchConf)
	if err != nil {
		f.logger.WithError(err).Error("Couldn't make a batch")
		return nil, err
	}

	for _, report := range reports {
		for _, sample := range report.Metrics {
			tags := map[string]string{"url": report.URL}
			if sample.Rating != "" {
				tags["rating"] = string(sample.Rating)
			}
			fields := map[string]interface{}{"value": sample.Value}
			for k, v := range sample.Extra {
				if k == "value" {
					continue
				}
				switch n := v.(type) {
				case float64, int, int64:
					fields[k] = n
				}
			}
			ts := time.UnixMilli(sample.Timestamp)
			if sample.Timestamp <= 0 {
				ts = time.UnixMilli(report.Timestamp)
			}
			p, err := client.NewPoint(sample.Name, tags, fields, ts)
			if err != nil {
				f.logger.WithError(err).Error("Couldn't make point from sample")
				return nil, err
			}
			batch.AddPoint(p)
		}
	}
	return batch, nil
}
