// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package lockreward

import (
	"context"
	"time"

	k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/obolnetwork/lockreward/app/errors"
	"github.com/obolnetwork/lockreward/app/k1util"
	"github.com/obolnetwork/lockreward/app/log"
	"github.com/obolnetwork/lockreward/app/z"
	"github.com/obolnetwork/lockreward/core"
	"github.com/obolnetwork/lockreward/core/schnorr"
)

// checkWindow returns a rejection if the reward height is outside the request window of the tip.
func (e *Engine) checkWindow(rewardHeight int64) error {
	if !e.params.InRequestWindow(rewardHeight, e.tip) {
		return newDoS(dosMalformed, "reward height out of window",
			z.I64("reward_height", rewardHeight), z.I64("tip", e.tip))
	}

	return nil
}

// checkMember returns a rejection unless the node is a known, unexpired quorum member that
// signed the hash with its metadata key usable at the reward height.
func (e *Engine) checkMember(op core.Outpoint, rewardHeight int64, hash core.Hash, sig []byte) error {
	rec, ok := e.config.Registry.Get(op)
	if !ok {
		return newDoS(dosBadSig, "unknown signer", z.Str("signer", op.String()))
	} else if rec.ExpiryHeight < e.tip {
		return newDoS(dosMalformed, "expired signer", z.Str("signer", op.String()))
	}

	if err := e.verifySig(op, rewardHeight, hash, sig); err != nil {
		return err
	}

	in, err := e.config.Scorer.InQuorum(op, e.params.QuorumTier, rewardHeight, e.params.QuorumTop)
	if err != nil {
		return err
	} else if !in {
		return newDoS(dosMalformed, "signer not in quorum", z.Str("signer", op.String()))
	}

	return nil
}

// handleRequest is protocol step 1: check and relay a request, then challenge the candidate
// if this node is in the quorum.
func (e *Engine) handleRequest(ctx context.Context, req core.LockRewardRequest) error {
	if err := e.checkWindow(req.RewardHeight); err != nil {
		return err
	}

	candidate, ok := e.config.Statement.Resolve(req.RewardHeight, req.Tier)
	if !ok || candidate.Outpoint != req.Candidate {
		return newDoS(dosMalformed, "candidate mismatch", z.Str("candidate", req.Candidate.String()))
	}

	if err := e.verifySig(req.Candidate, req.RewardHeight, req.Hash(), req.Sig); err != nil {
		return err
	}

	if !e.config.Store.AddRequest(req) {
		return nil // Superseded by a higher loop.
	}

	e.broadcast(ctx, core.NewRequestMsg(req))
	e.participate(ctx, req)

	return nil
}

// participate is protocol steps 2 and 3 for quorum members: challenge the candidate and commit
// a nonce. The candidate commits to its own request without a challenge.
func (e *Engine) participate(ctx context.Context, req core.LockRewardRequest) {
	if e.config.Self.IsZero() {
		return
	}

	in, err := e.config.Scorer.InQuorum(e.config.Self, e.params.QuorumTier, req.RewardHeight, e.params.QuorumTop)
	if err != nil {
		log.Debug(ctx, "Quorum rank not resolvable", z.Err(err))
		return
	} else if !in || !e.canSign(req.RewardHeight) {
		return
	}

	if req.Candidate == e.config.Self {
		e.commit(ctx, req)
		return
	}

	rec, ok := e.config.Registry.Get(req.Candidate)
	if !ok {
		return
	}

	meta, err := e.config.Directory.Lookup(rec.MetadataID)
	if err != nil {
		log.Debug(ctx, "Candidate metadata not found", z.Err(err))
		return
	} else if !e.params.MetaMatured(meta.Height, req.RewardHeight) {
		log.Debug(ctx, "Candidate metadata not matured")
		return
	}

	if e.challenge(ctx, req, meta) {
		e.commit(ctx, req)
	}
}

// challenge sends a liveness challenge to the candidate. It returns true if the candidate replied
// correctly or could not be reached within the timeout, false if the reply was invalid.
func (e *Engine) challenge(ctx context.Context, req core.LockRewardRequest, meta core.Meta) bool {
	challenge := core.VerifyRequest{
		Verifier:     e.config.Self,
		Candidate:    req.Candidate,
		RequestHash:  req.Hash(),
		RewardHeight: req.RewardHeight,
		Nonce:        randomNonce(),
	}

	root := challenge.ChallengeRoot()
	sig, err := e.sign(root)
	if err != nil {
		log.Error(ctx, "Sign liveness challenge", err)
		return false
	}
	challenge.Sig1 = sig

	t0 := time.Now()
	verifyCtx, cancel := context.WithTimeout(ctx, e.config.VerifyTimeout)
	defer cancel()

	reply, err := e.config.Verifier.Verify(verifyCtx, meta.PubKey, meta.Addr, challenge)
	if err != nil {
		livenessHistogram.WithLabelValues("unreachable").Observe(time.Since(t0).Seconds())
		log.Debug(ctx, "Candidate unreachable, committing anyway", z.Err(err))

		return true
	}

	if err := e.checkReply(challenge, reply, meta); err != nil {
		livenessHistogram.WithLabelValues("invalid").Observe(time.Since(t0).Seconds())
		log.Warn(ctx, "Invalid liveness reply", err)

		return false
	}

	livenessHistogram.WithLabelValues("ok").Observe(time.Since(t0).Seconds())

	return true
}

func (e *Engine) checkReply(challenge, reply core.VerifyRequest, meta core.Meta) error {
	if reply.ChallengeRoot() != challenge.ChallengeRoot() || string(reply.Sig1) != string(challenge.Sig1) {
		return errors.New("reply does not match challenge")
	}

	pubkey, err := e.config.Directory.PubKey(meta.PubKey)
	if err != nil {
		return err
	}

	root := reply.ReplyRoot()
	if ok, err := k1util.Verify65(pubkey, root[:], reply.Sig2); err != nil || !ok {
		return errors.New("invalid reply signature")
	}

	return nil
}

// commit is protocol step 3: commit a one time nonce to the request.
func (e *Engine) commit(ctx context.Context, req core.LockRewardRequest) {
	hash := req.Hash()
	if _, ok := e.nonces[hash]; ok {
		return
	}

	nonce, err := k1.GeneratePrivateKey()
	if err != nil {
		log.Error(ctx, "Generate nonce", err)
		return
	}

	c := core.Commitment{
		Signer:       e.config.Self,
		RequestHash:  hash,
		RewardHeight: req.RewardHeight,
		Nonce:        nonce.PubKey().SerializeCompressed(),
	}
	if c.Sig, err = e.sign(c.Hash()); err != nil {
		log.Error(ctx, "Sign commitment", err)
		return
	}

	e.nonces[hash] = nonceSecret{Key: nonce, RewardHeight: req.RewardHeight}
	if !e.config.Store.AddCommitment(c) {
		return
	}

	log.Debug(ctx, "Committed to lock-reward request", z.Str("candidate", req.Candidate.String()))

	e.broadcast(ctx, core.NewCommitmentMsg(c))
	e.afterCommitment(ctx, c)
}

// handleCommitment checks and relays a quorum member's commitment.
func (e *Engine) handleCommitment(ctx context.Context, c core.Commitment) error {
	if err := e.checkWindow(c.RewardHeight); err != nil {
		return err
	}

	if err := e.checkMember(c.Signer, c.RewardHeight, c.Hash(), c.Sig); err != nil {
		return err
	}

	if _, err := k1util.ParsePubKey(c.Nonce); err != nil {
		return newDoS(dosMalformed, "invalid commitment nonce")
	}

	if !e.config.Store.AddCommitment(c) {
		return nil
	}

	e.broadcast(ctx, core.NewCommitmentMsg(c))
	e.afterCommitment(ctx, c)

	return nil
}

// afterCommitment collects signers of this node's request and retries groups awaiting
// the commitment.
func (e *Engine) afterCommitment(ctx context.Context, c core.Commitment) {
	for hash, g := range e.pending {
		if g.RequestHash == c.RequestHash && e.partialSign(ctx, g) {
			delete(e.pending, hash)
		}
	}

	if e.current == nil || c.RequestHash != e.current.Hash() {
		return
	}

	if e.config.Store.AddMySigner(c) {
		e.formGroups(ctx)
	}
}

// formGroups is protocol step 4: form a signer group of each complete batch of GroupSize
// signers in arrival order, at most once per group index.
func (e *Engine) formGroups(ctx context.Context) {
	req := *e.current
	hash := req.Hash()
	signers := e.config.Store.MySigners(hash)
	size := e.params.GroupSize

	for i := 1; i <= e.params.QuorumTop/size; i++ {
		if len(signers) < size*i || e.groups >= i {
			continue
		}

		var ranks []int
		for _, c := range signers[size*(i-1) : size*i] {
			rank, ok := e.config.Registry.RankAt(e.params.QuorumTier, req.RewardHeight, c.Signer)
			if !ok {
				log.Warn(ctx, "Signer not ranked at reward height", nil, z.Str("signer", c.Signer.String()))
				return
			}
			ranks = append(ranks, rank)
		}

		g := core.GroupSigners{
			Candidate:    e.config.Self,
			RequestHash:  hash,
			Group:        i,
			RewardHeight: req.RewardHeight,
			SignerRanks:  ranks,
		}

		sig, err := e.sign(g.Hash())
		if err != nil {
			log.Error(ctx, "Sign signer group", err)
			return
		}
		g.Sig = sig

		e.groups = i
		if !e.config.Store.AddGroup(g) {
			continue
		}

		groupCounter.Inc()
		log.Info(ctx, "Formed lock-reward signer group", z.Int("group", i), z.Any("ranks", ranks))

		e.broadcast(ctx, core.NewGroupMsg(g))
		e.partialSign(ctx, g)
	}
}

// handleGroup checks and relays a candidate's signer group, then signs if this node is a signer.
func (e *Engine) handleGroup(ctx context.Context, g core.GroupSigners) error {
	req, ok := e.config.Store.Request(g.RequestHash)
	if !ok {
		return errors.New("unknown group request")
	} else if req.Candidate != g.Candidate {
		return newDoS(dosMalformed, "group candidate mismatch")
	}

	if err := e.checkWindow(g.RewardHeight); err != nil {
		return err
	} else if len(g.SignerRanks) != e.params.GroupSize {
		return newDoS(dosMalformed, "invalid group size", z.Int("size", len(g.SignerRanks)))
	}

	if err := e.verifySig(g.Candidate, g.RewardHeight, g.Hash(), g.Sig); err != nil {
		return err
	}

	if _, err := e.checker.resolveSigners(g.RewardHeight, g.SignerRanks); err != nil {
		return err
	}

	if !e.config.Store.AddGroup(g) {
		return nil
	}

	e.broadcast(ctx, core.NewGroupMsg(g))

	if !e.partialSign(ctx, g) {
		e.pending[g.Hash()] = g
	}

	return nil
}

// session returns the signers and signing session of the group with nonces set.
// It returns false if any signer's commitment is not yet known.
func (e *Engine) session(g core.GroupSigners) ([]signer, *schnorr.Session, bool, error) {
	signers, err := e.checker.resolveSigners(g.RewardHeight, g.SignerRanks)
	if err != nil {
		return nil, nil, false, err
	}

	var (
		pubkeys []*k1.PublicKey
		nonces  []*k1.PublicKey
	)
	for _, s := range signers {
		c, ok := e.config.Store.CommitmentFor(g.RequestHash, s.Record.Outpoint)
		if !ok {
			return nil, nil, false, nil
		}

		nonce, err := e.config.Directory.PubKey(c.Nonce)
		if err != nil {
			return nil, nil, false, err
		}

		pubkeys = append(pubkeys, s.PubKey)
		nonces = append(nonces, nonce)
	}

	session, err := schnorr.NewSession(pubkeys, Message(g.Candidate, g.RewardHeight))
	if err != nil {
		return nil, nil, false, err
	}

	if err := session.SetNonces(nonces); err != nil {
		return nil, nil, false, err
	}

	return signers, session, true, nil
}

// partialSign is protocol step 5: sign the group if this node is a signer. It returns false if
// the group awaits commitments.
func (e *Engine) partialSign(ctx context.Context, g core.GroupSigners) bool {
	signers, session, ok, err := e.session(g)
	if err != nil {
		log.Debug(ctx, "Signer group not signable", z.Err(err))
		return true
	} else if !ok {
		return false
	}

	index := -1
	for i, s := range signers {
		if s.Record.Outpoint == e.config.Self {
			index = i
		}
	}
	if index < 0 {
		return true
	}

	nonce, ok := e.nonces[g.RequestHash]
	if !ok {
		log.Warn(ctx, "Nonce secret not found for signer group", nil)
		return true
	} else if e.signed[g.RequestHash] {
		log.Warn(ctx, "Refusing to reuse nonce for another signer group", nil, z.Int("group", g.Group))
		return true
	}

	partial, err := session.Sign(index, e.config.Key, nonce.Key)
	if err != nil {
		log.Warn(ctx, "Partial signing failed", err)
		return true
	}
	e.signed[g.RequestHash] = true

	p := core.PartialSignature{
		Signer:       e.config.Self,
		GroupHash:    g.Hash(),
		RewardHeight: g.RewardHeight,
		Partial:      partial[:],
	}
	if p.Sig, err = e.sign(p.Hash()); err != nil {
		log.Error(ctx, "Sign partial signature", err)
		return true
	}

	if !e.config.Store.AddPartial(p) {
		return true
	}

	log.Debug(ctx, "Partially signed lock-reward", z.Int("group", g.Group))

	e.broadcast(ctx, core.NewPartialMsg(p))
	e.afterPartial(ctx, p)

	return true
}

// handlePartial checks and relays a signer's partial signature.
func (e *Engine) handlePartial(ctx context.Context, p core.PartialSignature) error {
	if err := e.checkWindow(p.RewardHeight); err != nil {
		return err
	} else if len(p.Partial) != schnorr.PartialLen {
		return newDoS(dosMalformed, "invalid partial length")
	}

	if err := e.checkMember(p.Signer, p.RewardHeight, p.Hash(), p.Sig); err != nil {
		return err
	}

	if !e.config.Store.AddPartial(p) {
		return nil
	}

	e.broadcast(ctx, core.NewPartialMsg(p))
	e.afterPartial(ctx, p)

	return nil
}

// afterPartial collects partial signatures of this node's groups.
func (e *Engine) afterPartial(ctx context.Context, p core.PartialSignature) {
	g, ok := e.config.Store.Group(p.GroupHash)
	if !ok || g.Candidate != e.config.Self {
		return
	}

	if e.config.Store.AddMyPartial(p) {
		e.aggregate(ctx, g)
	}
}

// aggregate is protocol steps 6 and 7: combine a complete set of partial signatures and
// emit the registration, once per reward height.
func (e *Engine) aggregate(ctx context.Context, g core.GroupSigners) {
	partials := e.config.Store.MyPartials(g.Hash())
	if len(partials) < e.params.GroupSize {
		return
	}

	signers, session, ok, err := e.session(g)
	if err != nil || !ok {
		log.Warn(ctx, "Signer group not aggregatable", err)
		return
	}

	bySigner := make(map[core.Outpoint][]byte)
	for _, p := range partials {
		bySigner[p.Signer] = p.Partial
	}

	var ordered [][schnorr.PartialLen]byte
	for _, s := range signers {
		partial, ok := bySigner[s.Record.Outpoint]
		if !ok {
			return
		}
		ordered = append(ordered, [schnorr.PartialLen]byte(partial))
	}

	sig, err := session.Combine(ordered)
	if err != nil {
		log.Warn(ctx, "Aggregating partial signatures failed", err, z.Int("group", g.Group))
		return
	}

	rec, ok := e.config.Registry.Get(g.Candidate)
	if !ok {
		log.Warn(ctx, "Aggregated signature of unknown candidate dropped", nil, z.Int("group", g.Group))
		return
	}

	if !e.config.Store.MarkRegistered(g.RewardHeight) {
		return
	}

	reg := core.Registration{
		RewardHeight: g.RewardHeight,
		Tier:         rec.Tier,
		Sig:          sig,
		SignerRanks:  g.SignerRanks,
	}

	registrationCounter.Inc()
	log.Info(ctx, "Aggregated lock-reward registration", z.Str("registration", reg.String()))

	for _, sub := range e.regSubs {
		if err := sub(ctx, reg); err != nil {
			log.Warn(ctx, "Register lock-reward", err)
		}
	}
}
