package types

// MaxFaulty is f for n participants, the largest f with n >= 3f+1.
func MaxFaulty(n int) int {
	if n <= 0 {
		return 0
	}
	return (n - 1) / 3
}

// QuorumThreshold is the 2f+1 distinct signers needed for a quorum of n.
func QuorumThreshold(n int) int {
	if n <= 0 {
		return 1
	}
	return 2*MaxFaulty(n) + 1
}
