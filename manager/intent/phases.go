package intent

import (
	metrics "github.com/docker/go-metrics"
	"github.com/intentkit/intentkit/api"
	"github.com/intentkit/intentkit/log"
	"github.com/sirupsen/logrus"
)

// phaseResult is the outcome of processing one request.
type phaseResult struct {
	// record is written to the store at the end of the batch. nil when
	// the request was skipped.
	record *api.IntentData
	// install is set when the coordinator must be called with toUninstall
	// and toInstall once record was written.
	install     bool
	toUninstall *api.IntentData
	toInstall   *api.IntentData
	// dropPending is a request that is discarded without a write.
	dropPending *api.IntentData
}

// processRequest runs a queued request through compilation and decides what
// to write and what to install.
func (m *Manager) processRequest(request *api.IntentData) phaseResult {
	key := request.Key()
	logger := log.L.WithFields(logrus.Fields{
		"intent.key":     key.String(),
		"intent.request": request.Request.String(),
		"intent.version": request.Version.String(),
	})

	pending := m.store.GetPendingData(key)
	if pending == nil || pending.Version.IsNewerThan(request.Version) {
		logger.Debug("request superseded")
		return phaseResult{}
	}
	if m.coordinator.hold(key) {
		// stays pending and is queued again when the installation
		// in flight finishes
		logger.Debug("installation in flight, holding request")
		return phaseResult{}
	}

	stored := m.store.GetIntentData(key)
	data := request.Copy()
	data.State = data.Request
	data.Origin = stored
	if stored != nil && stored.State == api.IntentStateCorrupt {
		data.ErrorCount = stored.ErrorCount
	}

	switch data.Request {
	case api.IntentStateInstallReq:
		return m.compilePhase(data, stored, logger)
	case api.IntentStateWithdrawReq:
		return withdrawPhase(data, stored)
	case api.IntentStatePurgeReq:
		return purgePhase(data, stored, logger)
	default:
		logger.Warn("unknown intent request")
		return phaseResult{dropPending: request}
	}
}

func (m *Manager) compilePhase(data, stored *api.IntentData, logger *logrus.Entry) phaseResult {
	var installed []*api.Intent
	if stored != nil {
		installed = stored.Installables
	}

	compiling := api.NextState(data, api.IntentStateCompiling)
	installables, err := m.compile(compiling.Intent, installed)
	if err != nil {
		logger.WithError(err).Warn("intent compilation failed")
		if len(installed) > 0 {
			// remove what is left of the previous compilation; the
			// coordinator turns this into FAILED
			withdrawing := api.Compiled(api.NextState(data, api.IntentStateWithdrawing), installed)
			return phaseResult{record: withdrawing, install: true, toUninstall: withdrawing}
		}
		failed := api.NextState(data, api.IntentStateFailed)
		failed.Installables = nil
		return phaseResult{record: failed}
	}

	installing := api.Compiled(api.NextState(compiling, api.IntentStateInstalling), installables)
	result := phaseResult{record: installing, install: true, toInstall: installing}
	if len(installed) > 0 {
		result.toUninstall = stored
	}
	return result
}

func (m *Manager) compile(intent *api.Intent, installed []*api.Intent) ([]*api.Intent, error) {
	defer metrics.StartTimer(compileLatencyTimer)()
	return m.compilers.Compile(intent, installed)
}

func withdrawPhase(data, stored *api.IntentData) phaseResult {
	if stored != nil && len(stored.Installables) > 0 {
		withdrawing := api.Compiled(api.NextState(data, api.IntentStateWithdrawing), stored.Installables)
		return phaseResult{record: withdrawing, install: true, toUninstall: withdrawing}
	}
	withdrawn := api.NextState(data, api.IntentStateWithdrawn)
	withdrawn.Installables = nil
	return phaseResult{record: withdrawn}
}

func purgePhase(data, stored *api.IntentData, logger *logrus.Entry) phaseResult {
	if stored == nil || stored.State == api.IntentStateWithdrawn || stored.State == api.IntentStateFailed {
		return phaseResult{record: data}
	}
	logger.WithField("intent.state", stored.State.String()).Info("cannot purge intent that is not withdrawn or failed")
	return phaseResult{dropPending: data}
}
