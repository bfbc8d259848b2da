package pbft

import (
	"sort"

	"github.com/pkg/errors"

	"bftchain/types"
)

// ViewManager tracks the current view and the view changes collected for
// every higher view.
//
// NORMAL(v) -> VIEW-CHANGING(v -> t) -> NORMAL(t)
type ViewManager struct {
	currentView uint64
	// 本节点已发出view change的最高目标view，不大于currentView时处于NORMAL
	targetView uint64
	records    map[uint64]*ViewRecord
}

func NewViewManager() *ViewManager {
	return &ViewManager{records: make(map[uint64]*ViewRecord)}
}

func (vm *ViewManager) CurrentView() uint64 {
	return vm.currentView
}

func (vm *ViewManager) TargetView() uint64 {
	return vm.targetView
}

// IsChanging reports whether the local node has asked for a higher view.
func (vm *ViewManager) IsChanging() bool {
	return vm.targetView > vm.currentView
}

func (vm *ViewManager) Get(view uint64) *ViewRecord {
	return vm.records[view]
}

// Records returns the view records ordered by view.
func (vm *ViewManager) Records() []*ViewRecord {
	res := make([]*ViewRecord, 0, len(vm.records))
	for _, rec := range vm.records {
		res = append(res, rec)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].View < res[j].View })
	return res
}

func (vm *ViewManager) getOrCreate(view uint64) *ViewRecord {
	rec, ok := vm.records[view]
	if !ok {
		rec = &ViewRecord{View: view}
		vm.records[view] = rec
	}
	return rec
}

// SetView restores the view of a restarted node.
func (vm *ViewManager) SetView(view uint64) {
	vm.transition(view)
}

// transition enters view and drops the records of every view up to it.
func (vm *ViewManager) transition(view uint64) {
	vm.currentView = view
	if vm.targetView < view {
		vm.targetView = view
	}
	for v := range vm.records {
		if v <= view {
			delete(vm.records, v)
		}
	}
}

//-----------------------------------------------------------------------------
// view change

// AddViewChange admits a view change for a view above the current one.
// Certificates carried by the view change must be valid. A view change for
// a view that has already passed is accepted without any effect.
func (db *Database) AddViewChange(vc types.ViewChange) bool {
	if err := db.checkViewChange(&vc); err != nil {
		if errors.Is(err, ErrStaleView) {
			db.logger.Debug("ignored stale view change", "target", vc.TargetView, "view", db.views.CurrentView())
			return true
		}
		db.reject(&vc, err)
		return false
	}
	db.metrics.VotesAccepted.With("type", "view_change").Add(1)

	rec := db.views.getOrCreate(vc.TargetView)
	rec.addViewChange(vc)
	if !rec.ShouldViewChange && db.viewChangeQuorum(rec.ViewChanges) {
		rec.ShouldViewChange = true
		db.logger.Info("View change quorum", "view", rec.View)
	}
	return true
}

func (db *Database) checkViewChange(vc *types.ViewChange) error {
	if vc.ChainID != db.chain.ChainID() {
		return ErrWrongChainID
	}
	if !db.shouldRecv(vc.Signer) {
		return ErrUnknownSigner
	}
	if err := vc.VerifySignature(); err != nil {
		return err
	}
	if vc.TargetView <= db.views.CurrentView() {
		return ErrStaleView
	}
	if err := db.validatePreparedCertificate(vc.PreparedCert); err != nil {
		return err
	}
	return db.validateStableCheckpoint(vc.StableCheckpoint)
}

// viewChangeQuorum counts distinct signers against the schedule at the
// last stable checkpoint.
func (db *Database) viewChangeQuorum(vcs []types.ViewChange) bool {
	signers := newSignerSet(db.lscbSchedule())
	for i := range vcs {
		signers.add(vcs[i].Signer)
	}
	return signers.hasQuorum()
}

// ShouldViewChange returns the highest view above the current one that has
// a view change quorum.
func (db *Database) ShouldViewChange() (uint64, bool) {
	var (
		best  uint64
		found bool
	)
	for view, rec := range db.views.records {
		if rec.ShouldViewChange && view > db.views.CurrentView() && view > best {
			best, found = view, true
		}
	}
	return best, found
}

// ShouldNewView reports whether view has gathered a view change quorum and
// is still ahead of the current view.
func (db *Database) ShouldNewView(view uint64) bool {
	rec := db.views.Get(view)
	return rec != nil && rec.ShouldViewChange && view > db.views.CurrentView()
}

// PrimaryForView returns schedule[view mod N] of the schedule at the last
// stable checkpoint.
func (db *Database) PrimaryForView(view uint64) types.ProducerKey {
	return db.lscbSchedule().Primary(view)
}

// IsNewPrimary reports whether a local signer is the primary of view.
func (db *Database) IsNewPrimary(view uint64) bool {
	_, ok := db.primarySigner(view)
	return ok
}

func (db *Database) primarySigner(view uint64) (localSigner, bool) {
	primary := db.PrimaryForView(view)
	for _, s := range db.signers {
		if types.KeyEqual(s.pubKey, primary.SigningKey) {
			return s, true
		}
	}
	return localSigner{}, false
}

// SendViewChanges asks for target with every local signer of the schedule
// at the last stable checkpoint.
func (db *Database) SendViewChanges(target uint64) []types.ViewChange {
	if target <= db.views.CurrentView() {
		return nil
	}
	pc := db.GeneratePreparedCertificate()
	sc, _ := db.StableCheckpointByID(db.checkpoints.Stable().ID)

	var sent []types.ViewChange
	for _, s := range db.signersFor(db.lscbSchedule()) {
		vc := types.ViewChange{
			RequestID:        newRequestID(),
			CurrentView:      db.views.CurrentView(),
			TargetView:       target,
			PreparedCert:     pc,
			StableCheckpoint: sc,
			ChainID:          db.chain.ChainID(),
		}
		if err := vc.Sign(s.pv); err != nil {
			db.logger.Error("failed to sign view change", "err", err)
			continue
		}
		db.AddViewChange(vc)
		db.outbox.Push(&vc)
		sent = append(sent, vc)
	}
	if target > db.views.targetView {
		db.views.targetView = target
	}
	db.metrics.ViewChanges.Add(1)
	db.logger.Info("Sent view change", "from", db.views.CurrentView(), "to", target)
	return sent
}

// GenerateViewChangedCertificate bundles the view changes for view. It is
// empty unless view has a quorum.
func (db *Database) GenerateViewChangedCertificate(view uint64) types.ViewChangedCertificate {
	if !db.ShouldNewView(view) {
		return types.ViewChangedCertificate{}
	}
	rec := db.views.Get(view)
	vcs := make([]types.ViewChange, len(rec.ViewChanges))
	copy(vcs, rec.ViewChanges)
	return types.ViewChangedCertificate{TargetView: view, ViewChanges: vcs}
}

// highestValidEvidence picks the highest valid prepared certificate and
// the highest valid stable checkpoint carried by vcs. Ties keep the first.
func (db *Database) highestValidEvidence(vcs []types.ViewChange) (types.PreparedCertificate, types.StableCheckpoint) {
	var (
		pc types.PreparedCertificate
		sc types.StableCheckpoint
	)
	for i := range vcs {
		vpc := vcs[i].PreparedCert
		if !vpc.IsEmpty() && vpc.Num > pc.Num && db.validatePreparedCertificate(vpc) == nil {
			pc = vpc
		}
		vsc := vcs[i].StableCheckpoint
		if !vsc.IsEmpty() && vsc.Num > sc.Num && db.validateStableCheckpoint(vsc) == nil {
			sc = vsc
		}
	}
	return pc, sc
}

// SendNewView emits the NewView of view when a local signer is its primary
// and the view change quorum is in. The NewView is also applied locally.
func (db *Database) SendNewView(view uint64) (*types.NewView, bool) {
	if !db.ShouldNewView(view) {
		return nil, false
	}
	s, ok := db.primarySigner(view)
	if !ok {
		return nil, false
	}
	vcc := db.GenerateViewChangedCertificate(view)
	pc, sc := db.highestValidEvidence(vcc.ViewChanges)
	nv := &types.NewView{
		RequestID:        newRequestID(),
		View:             view,
		PreparedCert:     pc,
		StableCheckpoint: sc,
		ViewChangedCert:  vcc,
		ChainID:          db.chain.ChainID(),
	}
	if err := nv.Sign(s.pv); err != nil {
		db.logger.Error("failed to sign new view", "err", err)
		return nil, false
	}
	if !db.AddNewView(*nv) {
		return nil, false
	}
	db.outbox.Push(nv)
	return nv, true
}

// IsValidNewView checks a NewView against the view changes it carries. The
// embedded certificates must be the highest valid ones those view changes
// hold.
func (db *Database) IsValidNewView(nv types.NewView) error {
	if nv.ChainID != db.chain.ChainID() {
		return ErrWrongChainID
	}
	if nv.View <= db.views.CurrentView() {
		return ErrStaleView
	}
	if nv.ViewChangedCert.TargetView != nv.View {
		return ErrViewChangeTarget
	}
	primary := db.PrimaryForView(nv.View)
	if !types.KeyEqual(primary.SigningKey, nv.Signer) {
		return ErrNotPrimary
	}
	if err := nv.VerifySignature(); err != nil {
		return err
	}

	vcs := nv.ViewChangedCert.ViewChanges
	for i := range vcs {
		if vcs[i].TargetView != nv.View {
			return ErrViewChangeTarget
		}
		if vcs[i].ChainID != db.chain.ChainID() {
			return ErrWrongChainID
		}
		if err := vcs[i].VerifySignature(); err != nil {
			return err
		}
	}
	if !db.viewChangeQuorum(vcs) {
		return errors.Wrapf(ErrNoQuorum, "view changes for view %d", nv.View)
	}

	pc, sc := db.highestValidEvidence(vcs)
	if !pc.BlockInfo.Equal(nv.PreparedCert.BlockInfo) {
		return errors.Wrapf(ErrCertMismatch, "prepared certificate %v, expected %v", nv.PreparedCert.BlockInfo, pc.BlockInfo)
	}
	if !sc.BlockInfo.Equal(nv.StableCheckpoint.BlockInfo) {
		return errors.Wrapf(ErrCertMismatch, "stable checkpoint %v, expected %v", nv.StableCheckpoint.BlockInfo, sc.BlockInfo)
	}
	if err := db.validatePreparedCertificate(nv.PreparedCert); err != nil {
		return err
	}
	return db.validateStableCheckpoint(nv.StableCheckpoint)
}

// AddNewView enters nv.View after importing the evidence it carries.
func (db *Database) AddNewView(nv types.NewView) bool {
	if err := db.IsValidNewView(nv); err != nil {
		db.reject(&nv, err)
		return false
	}
	for _, p := range nv.PreparedCert.Prepares {
		db.AddPrepare(p)
	}
	for _, cp := range nv.StableCheckpoint.Checkpoints {
		db.AddCheckpoint(cp)
	}
	db.CheckpointLocal()

	db.views.transition(nv.View)
	db.metrics.View.Set(float64(nv.View))
	db.logger.Info("Entered new view", "view", nv.View, "primary", db.PrimaryForView(nv.View).Name)
	return true
}
