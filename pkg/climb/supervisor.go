// Package climb supervises a climbing session: it reads the height, asks the
// motion controller for a step duration, runs the gait and decides when to
// stop. Every session ends by releasing the grip and powering the hardware
// off, whatever happened before.
package climb

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/polebot/climber/pkg/events"
	"github.com/polebot/climber/pkg/gait"
	"github.com/polebot/climber/pkg/hardware"
	"github.com/polebot/climber/pkg/motion"
	"github.com/polebot/climber/pkg/sonar"
)

// ErrSessionUsed is returned when Run is called a second time.
var ErrSessionUsed = errors.New("climb: session already ran")

// Publisher receives session events. *events.Hub implements it.
type Publisher interface {
	Publish(name string, payload any)
}

type noopPublisher struct{}

func (noopPublisher) Publish(string, any) {}

// Supervisor owns the hardware for one session.
type Supervisor struct {
	bank   hardware.Bank
	sensor sonar.Sensor
	ctrl   motion.Controller
	seq    *gait.Sequencer
	params Params
	pub    Publisher

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	ran atomic.Bool

	// Session values, only touched by the Run goroutine.
	initial  float64
	last     float64
	failures int
	stalls   int
	records  []StepRecord

	mu     sync.RWMutex
	status Status
}

// NewSupervisor validates params and returns a supervisor. Grip setup
// sessions need neither a sensor nor a controller.
func NewSupervisor(bank hardware.Bank, sensor sonar.Sensor, ctrl motion.Controller, params Params) (*Supervisor, error) {
	if bank == nil {
		return nil, pkgerrors.New("climb: nil actuator bank")
	}
	if err := params.Validate(); err != nil {
		return nil, pkgerrors.Wrap(err, "invalid session parameters")
	}
	if params.Diameter == NoDiameter && (sensor == nil || ctrl == nil) {
		return nil, pkgerrors.New("climb: a climb needs a sensor and a motion controller")
	}

	s := &Supervisor{
		bank:   bank,
		sensor: sensor,
		ctrl:   ctrl,
		seq:    gait.NewSequencer(bank, params.Direction, params.Gait),
		params: params,
		pub:    noopPublisher{},
		sleep:  sleepContext,
		now:    time.Now,
	}
	s.status = Status{
		State:     StateInit,
		Direction: params.Direction.String(),
		Target:    params.Target,
		MaxSteps:  params.MaxSteps,
	}
	return s, nil
}

// SetPublisher sends state and step events to p.
func (s *Supervisor) SetPublisher(p Publisher) {
	if p == nil {
		p = noopPublisher{}
	}
	s.pub = p
}

// SetSleep replaces the settle wait. fn must return ctx.Err() when ctx ends
// before d elapses.
func (s *Supervisor) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	s.sleep = fn
}

// SetClock replaces the wall clock used for timestamps.
func (s *Supervisor) SetClock(fn func() time.Time) {
	s.now = fn
}

// Params returns the session parameters.
func (s *Supervisor) Params() Params {
	return s.params
}

// Status returns a snapshot of the session. It is safe to call from any
// goroutine.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := s.status
	if st.LastStep != nil {
		rec := *st.LastStep
		st.LastStep = &rec
	}
	return st
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run executes the session to completion and always finalizes the hardware.
// Converged, Exhausted and grip-set sessions return a nil error; an aborted
// session returns a *Fault. The summary is valid in every case.
func (s *Supervisor) Run(ctx context.Context) (Summary, error) {
	if s.ran.Swap(true) {
		return Summary{}, ErrSessionUsed
	}
	start := s.now()
	s.updateStatus(func(st *Status) { st.StartedAt = start })

	logrus.WithFields(logrus.Fields{
		"direction": s.params.Direction,
		"target":    s.params.Target,
		"diameter":  int(s.params.Diameter),
		"maxSteps":  s.params.MaxSteps,
	}).Info("session started")

	outcome, fault := s.execute(ctx)
	if fault != nil {
		s.transition(StateAborted, fault.Error())
	} else if st := outcome.state(); st != StateFinalizing {
		s.transition(st, "")
	}

	s.transition(StateFinalizing, "")
	if err := s.finalize(outcome); err != nil && fault == nil {
		fault = s.fault(ErrActuatorFault, err)
	}

	sum := s.summarize(outcome, fault, start)
	s.updateStatus(func(st *Status) { st.Summary = &sum })
	s.transition(StateDone, "")

	log := logrus.WithFields(logrus.Fields{
		"initial":      sum.InitialHeight,
		"final":        sum.FinalHeight,
		"displacement": sum.Displacement,
		"steps":        sum.Steps,
		"outcome":      sum.Outcome,
		"elapsed":      sum.Elapsed,
	})
	if fault != nil {
		log.WithError(fault).Error("session ended with a fault")
		return sum, fault
	}
	log.Info("session complete")
	return sum, nil
}

// execute runs Init through the terminal state. A panic is turned into an
// unhandled fault so the caller still finalizes.
func (s *Supervisor) execute(ctx context.Context) (outcome Outcome, fault *Fault) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("panic", r).Error("recovered from panic during session")
			outcome = OutcomeAborted
			fault = s.fault(ErrUnhandledFault, fmt.Errorf("panic: %v", r))
		}
	}()

	if s.params.Diameter != NoDiameter {
		s.transition(StateGripSetup, s.params.Diameter.String()+" column")
		if f := s.gripSetup(ctx); f != nil {
			return OutcomeAborted, f
		}
		return OutcomeGripSet, nil
	}

	h, f := s.readInitial(ctx)
	if f != nil {
		return OutcomeAborted, f
	}
	s.initial = h
	s.updateStatus(func(st *Status) { st.InitialHeight = h })
	logrus.WithField("height", h).Info("initial height")

	if s.arrived(h) {
		logrus.WithFields(logrus.Fields{
			"height": h,
			"target": s.params.Target,
			"margin": s.params.StartMargin,
		}).Info("already at target, no steps needed")
		return OutcomeConverged, nil
	}

	s.transition(StateStepping, "")
	return s.stepping(ctx)
}

func (s *Supervisor) gripSetup(ctx context.Context) *Fault {
	profile, _ := s.params.Diameter.Profile()
	assemblies := []hardware.Assembly{hardware.Upper, hardware.Lower}

	for _, a := range assemblies {
		if err := ctx.Err(); err != nil {
			return s.fault(ErrUserAbort, err)
		}
		logrus.WithFields(logrus.Fields{"assembly": a, "duration": profile.Radial}).Info("retracting radial rod")
		if err := s.bank.Drive(a.Radial(), hardware.Retract, profile.Radial); err != nil {
			return s.fault(ErrActuatorFault, err)
		}
	}
	if profile.Horizontal == 0 {
		return nil
	}
	for _, a := range assemblies {
		if err := ctx.Err(); err != nil {
			return s.fault(ErrUserAbort, err)
		}
		logrus.WithFields(logrus.Fields{"assembly": a, "duration": profile.Horizontal}).Info("retracting horizontal rod")
		if err := s.bank.Drive(a.Horizontal(), hardware.Retract, profile.Horizontal); err != nil {
			return s.fault(ErrActuatorFault, err)
		}
	}
	return nil
}

// readInitial retries until the sensor answers or MaxSensorFailures
// consecutive readings have failed.
func (s *Supervisor) readInitial(ctx context.Context) (float64, *Fault) {
	for {
		h, err := s.sensor.Measure()
		if err == nil {
			s.failures = 0
			s.last = h
			s.setHeight(h, false)
			return h, nil
		}
		s.failures++
		logrus.WithError(err).WithField("failures", s.failures).Warn("initial height reading failed")
		if s.failures >= s.params.MaxSensorFailures {
			return 0, s.fault(ErrSensorTimeout, err)
		}
		if err := s.sleep(ctx, s.params.SettleInterval); err != nil {
			return 0, s.fault(ErrUserAbort, err)
		}
	}
}

// read measures the height. On failure it returns the last good reading
// flagged as degraded, until too many failures in a row abort the session.
func (s *Supervisor) read() (float64, bool, *Fault) {
	h, err := s.sensor.Measure()
	if err == nil {
		s.failures = 0
		s.last = h
		s.setHeight(h, false)
		return h, false, nil
	}

	s.failures++
	logrus.WithError(err).WithFields(logrus.Fields{
		"failures": s.failures,
		"fallback": s.last,
	}).Warn("height reading failed, using last good reading")
	if s.failures >= s.params.MaxSensorFailures {
		return s.last, true, s.fault(ErrSensorTimeout, err)
	}
	s.setHeight(s.last, true)
	return s.last, true, nil
}

func (s *Supervisor) arrived(h float64) bool {
	p := s.params
	if p.FixedSteps || p.StartMargin < 0 || p.Direction != gait.Descend {
		return false
	}
	return h <= p.Target+p.StartMargin
}

func (s *Supervisor) converged(h float64) bool {
	return math.Abs(h-s.params.Target) <= s.params.Tolerance
}

// checkProgress compares two consecutive pre-step readings. Its result is
// only logged.
func (s *Supervisor) checkProgress(prev, cur float64) error {
	change := math.Abs(cur - prev)
	if change < s.params.HeightThreshold {
		return pkgerrors.Wrapf(ErrProgressStalled, "height changed %.2fcm, less than %.2fcm", change, s.params.HeightThreshold)
	}
	if s.params.Direction == gait.Descend && cur >= prev {
		return pkgerrors.Wrapf(ErrProgressStalled, "height %.2fcm is not below %.2fcm", cur, prev)
	}
	return nil
}

func (s *Supervisor) stepping(ctx context.Context) (Outcome, *Fault) {
	p := s.params
	prev := s.initial

	for s.seq.StepCount() < p.MaxSteps {
		if err := ctx.Err(); err != nil {
			return OutcomeAborted, s.fault(ErrUserAbort, err)
		}

		cur, degraded, f := s.read()
		if f != nil {
			return OutcomeAborted, f
		}
		if s.seq.StepCount() > 0 && !degraded {
			if err := s.checkProgress(prev, cur); err != nil {
				s.stalls++
				logrus.WithField("step", s.seq.StepCount()).Warn(err.Error())
			}
		}
		if !degraded {
			prev = cur
		}

		rec, f := s.cycle(cur, s.ctrl.Compute(cur), false)
		if f != nil {
			return OutcomeAborted, f
		}

		if !p.FixedSteps && !rec.Degraded && s.converged(rec.Height) {
			logrus.WithFields(logrus.Fields{
				"height": rec.Height,
				"target": p.Target,
				"steps":  rec.Step,
			}).Info("target reached")
			if s.seq.StepCount()%2 == 0 {
				if err := ctx.Err(); err != nil {
					return OutcomeAborted, s.fault(ErrUserAbort, err)
				}
				logrus.WithField("duration", p.ForcedStepDuration).Info("even step count, running one more cycle to re-home the other assembly")
				if _, f := s.cycle(rec.Height, p.ForcedStepDuration, true); f != nil {
					return OutcomeAborted, f
				}
			}
			return OutcomeConverged, nil
		}

		if err := s.sleep(ctx, p.SettleInterval); err != nil {
			return OutcomeAborted, s.fault(ErrUserAbort, err)
		}
	}

	logrus.WithField("maxSteps", p.MaxSteps).Info(ErrMaxStepsExhausted.Error())
	return OutcomeExhausted, nil
}

// cycle runs one gait cycle of duration d, re-reads the height and records it.
func (s *Supervisor) cycle(before float64, d time.Duration, forced bool) (StepRecord, *Fault) {
	a, err := s.seq.Step(d)
	if err != nil {
		return StepRecord{}, s.fault(ErrActuatorFault, err)
	}

	h, degraded, f := s.read()
	if f != nil {
		return StepRecord{}, f
	}

	rec := StepRecord{
		Step:         s.seq.StepCount(),
		Assembly:     a.String(),
		Duration:     d,
		Forced:       forced,
		Before:       before,
		Height:       h,
		Degraded:     degraded,
		SignedError:  motion.SignedError(s.params.Direction, s.params.Target, h),
		Displacement: sonar.Round2(h - s.initial),
	}
	s.records = append(s.records, rec)
	s.updateStatus(func(st *Status) {
		st.Steps = rec.Step
		st.SignedError = rec.SignedError
		st.LastStep = &rec
	})

	logrus.WithFields(logrus.Fields{
		"step":         rec.Step,
		"assembly":     rec.Assembly,
		"duration":     rec.Duration,
		"height":       rec.Height,
		"degraded":     rec.Degraded,
		"signedError":  rec.SignedError,
		"displacement": rec.Displacement,
		"forced":       rec.Forced,
	}).Info("step complete")

	s.pub.Publish(events.ClimbStep, events.StepEvent{
		Step:         rec.Step,
		Assembly:     rec.Assembly,
		Height:       rec.Height,
		Degraded:     rec.Degraded,
		SignedError:  rec.SignedError,
		DurationMs:   rec.Duration.Milliseconds(),
		Displacement: rec.Displacement,
		Forced:       rec.Forced,
		Ts:           s.now().Unix(),
	})
	return rec, nil
}

// finalize releases the grip and powers off. If any part of it fails the
// bank is emergency stopped, which releases the handle regardless.
func (s *Supervisor) finalize(outcome Outcome) (err error) {
	log := logrus.WithField("outcome", outcome)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while finalizing: %v", r)
		}
		if err != nil {
			log.WithError(err).Error("finalizing failed, forcing emergency stop")
			if estop := s.bank.EmergencyStop(); estop != nil {
				log.WithError(estop).Error("emergency stop failed")
			}
		}
	}()

	if outcome == OutcomeAborted {
		if err := s.bank.AllOff(); err != nil {
			log.WithError(err).Warn("failed to de-energize lines")
		}
	}
	return s.teardown(outcome)
}

func (s *Supervisor) teardown(outcome Outcome) error {
	p := s.params

	if err := s.bank.ResetServos(); err != nil {
		return pkgerrors.Wrap(err, "failed to reset servos")
	}
	// Not cancellable: the grip must be released even after an abort.
	_ = s.sleep(context.Background(), p.FinalPause)

	// Grip setup leaves the rods where it put them.
	if outcome != OutcomeGripSet {
		logrus.Info("releasing grip")
		for _, a := range []hardware.Assembly{hardware.Upper, hardware.Lower} {
			if err := s.bank.Drive(a.Radial(), hardware.Extend, p.FinalRadialRelease); err != nil {
				return pkgerrors.Wrapf(err, "failed to release %s radial rod", a)
			}
		}
		for _, a := range []hardware.Assembly{hardware.Upper, hardware.Lower} {
			if err := s.bank.Drive(a.Horizontal(), hardware.Retract, p.FinalHorizontalRelease); err != nil {
				return pkgerrors.Wrapf(err, "failed to retract %s horizontal rod", a)
			}
		}
	}

	if err := s.bank.PowerOff(); err != nil {
		return pkgerrors.Wrap(err, "failed to power off")
	}
	return nil
}

func (s *Supervisor) summarize(outcome Outcome, fault *Fault, start time.Time) Summary {
	final := s.last
	if len(s.records) > 0 {
		final = s.records[len(s.records)-1].Height
	}
	if s.params.Diameter != NoDiameter {
		final = 0
	}

	sum := Summary{
		Direction:     s.params.Direction.String(),
		Target:        s.params.Target,
		InitialHeight: s.initial,
		FinalHeight:   final,
		Displacement:  sonar.Round2(final - s.initial),
		Steps:         s.seq.StepCount(),
		Stalls:        s.stalls,
		Outcome:       outcome,
		Elapsed:       s.now().Sub(start).Round(time.Millisecond).String(),
		Records:       append([]StepRecord(nil), s.records...),
	}
	if fault != nil {
		sum.Error = fault.Error()
	}
	return sum
}

func (s *Supervisor) fault(kind, cause error) *Fault {
	return &Fault{
		Kind:  kind,
		State: s.Status().State,
		Step:  s.seq.StepCount(),
		Cause: cause,
	}
}

func (s *Supervisor) setHeight(h float64, degraded bool) {
	s.updateStatus(func(st *Status) {
		st.Height = h
		st.Degraded = degraded
	})
}

func (s *Supervisor) updateStatus(fn func(st *Status)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.status)
}

func (s *Supervisor) transition(to State, msg string) {
	s.mu.Lock()
	from := s.status.State
	s.status.State = to
	s.status.Message = msg
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"from":    from,
		"to":      to,
		"message": msg,
	}).Debug("state transition")

	s.pub.Publish(events.ClimbState, events.StateEvent{
		From:    string(from),
		To:      string(to),
		Message: msg,
		Ts:      s.now().Unix(),
	})
}
