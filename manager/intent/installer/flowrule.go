// Package installer contains installers pushing installable intents to the
// flow rule drivers.
package installer

import (
	"context"

	"github.com/intentkit/intentkit/api"
	"github.com/intentkit/intentkit/log"
	"github.com/intentkit/intentkit/manager/drivers/flowrule"
	"github.com/intentkit/intentkit/manager/intent"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Coordinator receives the outcome of an operation.
type Coordinator interface {
	Success(ctx *intent.OperationContext)
	Failed(ctx *intent.OperationContext)
}

// FlowRuleInstaller installs flow rule intents. Rules shared by the
// uninstalled and installed intents are left in place, so replacing an
// intent only touches the rules that changed.
type FlowRuleInstaller struct {
	ctx         context.Context
	rules       flowrule.Service
	coordinator Coordinator
}

// NewFlowRuleInstaller returns an installer writing to rules. ctx is passed
// to the driver for every batch.
func NewFlowRuleInstaller(ctx context.Context, rules flowrule.Service, coordinator Coordinator) *FlowRuleInstaller {
	return &FlowRuleInstaller{
		ctx:         log.WithModule(ctx, "installer"),
		rules:       rules,
		coordinator: coordinator,
	}
}

// Apply implements intent.Installer.
func (i *FlowRuleInstaller) Apply(op *intent.OperationContext) {
	logger := log.G(i.ctx).WithField("intent", op.Key())

	from, err := flowRules(op.IntentsToUninstall)
	if err != nil {
		logger.WithError(err).Error("cannot uninstall flow rules")
		i.coordinator.Failed(op)
		return
	}
	to, err := flowRules(op.IntentsToInstall)
	if err != nil {
		logger.WithError(err).Error("cannot install flow rules")
		i.coordinator.Failed(op)
		return
	}

	batch := flowrule.Delta(from, to)
	if batch.Empty() {
		i.coordinator.Success(op)
		return
	}
	logger.WithFields(logrus.Fields{
		"removals":  len(batch.Removals),
		"additions": len(batch.Additions),
	}).Debug("applying flow rules")

	i.rules.Apply(i.ctx, batch, func(err error) {
		if err != nil {
			logger.WithError(err).Warn("flow rule batch failed")
			i.coordinator.Failed(op)
			return
		}
		i.coordinator.Success(op)
	})
}

func flowRules(intents []*api.Intent) ([]api.FlowRule, error) {
	var rules []api.FlowRule
	for _, in := range intents {
		spec, ok := in.Spec.(*api.FlowRuleSpec)
		if !ok {
			return nil, errors.Errorf("intent %s is %T, not flow rules", in.Key, in.Spec)
		}
		rules = append(rules, spec.Rules...)
	}
	return rules, nil
}
