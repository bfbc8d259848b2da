package types

// PreparedCertificate proves a block gathered prepares from a quorum in one
// view. The empty certificate stands for "nothing prepared".
type PreparedCertificate struct {
	BlockInfo `json:"block"`
	Prepares  []Vote `json:"prepares"`
}

func (pc *PreparedCertificate) Digest() []byte {
	d := newDigest(PrepareType).int64(pc.Num).bytes(pc.ID).uint64(uint64(len(pc.Prepares)))
	for i := range pc.Prepares {
		d.bytes(pc.Prepares[i].Digest()).bytes(pc.Prepares[i].Signature)
	}
	return d.sum()
}

// ViewChangedCertificate carries the view changes that justify TargetView.
type ViewChangedCertificate struct {
	TargetView  uint64       `json:"target_view"`
	ViewChanges []ViewChange `json:"view_changes"`
}

func (vcc ViewChangedCertificate) IsEmpty() bool {
	return len(vcc.ViewChanges) == 0
}

func (vcc *ViewChangedCertificate) Digest() []byte {
	d := newDigest(ViewChangeType).uint64(vcc.TargetView).uint64(uint64(len(vcc.ViewChanges)))
	for i := range vcc.ViewChanges {
		d.bytes(vcc.ViewChanges[i].Digest()).bytes(vcc.ViewChanges[i].Signature)
	}
	return d.sum()
}

// StableCheckpoint is a quorum of checkpoints on one block.
type StableCheckpoint struct {
	BlockInfo   `json:"block"`
	Checkpoints []Checkpoint `json:"checkpoints"`
}

func (sc *StableCheckpoint) Digest() []byte {
	d := newDigest(CheckpointType).int64(sc.Num).bytes(sc.ID).uint64(uint64(len(sc.Checkpoints)))
	for i := range sc.Checkpoints {
		d.bytes(sc.Checkpoints[i].Digest()).bytes(sc.Checkpoints[i].Signature)
	}
	return d.sum()
}
