// Package events publishes deployment outcomes to NATS so fleet
// dashboards and downstream automation can react without polling the
// journal.
package events

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fleetdeploy/fleetdeploy/pkg/model"
)

const defaultSubjectPrefix = "deploy"

// Publisher implements the orchestrator's EventSink on a NATS
// connection. Publishing is best effort: a broker hiccup never fails
// a deployment.
type Publisher struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger
}

func Connect(url, subjectPrefix string, logger *zap.Logger) (*Publisher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	if subjectPrefix == "" {
		subjectPrefix = defaultSubjectPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{conn: conn, prefix: subjectPrefix, logger: logger}, nil
}

func (p *Publisher) TargetDeployed(result model.DeploymentResult) {
	p.publish(p.prefix+".result."+result.TargetLabel, result)
}

func (p *Publisher) RunCompleted(summary model.RunSummary) {
	p.publish(p.prefix+".run", summary)
}

func (p *Publisher) publish(subject string, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		p.logger.Warn("failed to encode event", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn("failed to publish event", zap.String("subject", subject), zap.Error(err))
	}
}

func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Flush()
		p.conn.Close()
	}
}
