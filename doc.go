// Package codex drives a Codex storage node through the engine's callback
// API.
//
// Every engine call reports its result through a callback that may fire on
// the engine's own thread. The package turns each call into a blocking Go
// call that honours a context, and serializes all calls into the engine.
//
// Basic usage:
//
//	node, _ := codex.New(codex.WithDataDir("~/.local/share/codex"))
//	defer node.Release()
//
//	if err := node.Start(); err != nil { ... }
//	id, _ := node.PeerID(ctx)
//
//	// Store and retrieve data
//	cid, _ := node.UploadReader(ctx, r, codex.UploadOptions{Filepath: "notes.txt"})
//	n, _ := node.DownloadStream(ctx, cid, w, codex.DownloadOptions{})
//
//	// Inspect the repository
//	manifests, _ := node.List(ctx)
//	space, _ := node.Space(ctx)
//
//	// Talk to other nodes
//	_ = node.Connect(ctx, peerID, []string{"/ip4/10.0.0.2/tcp/8070"})
//
//	node.Stop()
//	node.Destroy()
//
// Handles made with Clone share one node. Destroy requires a single stopped
// handle; a node whose handles are all released without Destroy is stopped
// and destroyed in the background.
//
// Datasets can be mirrored through an OCI registry:
//
//	node.Export(ctx, "ttl.sh/myorg/datasets:v1", cids, codex.MirrorOptions{})
//	imported, _ := other.Import(ctx, "ttl.sh/myorg/datasets:v1", codex.MirrorOptions{})
//
// Builds without the libcodex tag run against an in-process engine that
// keeps data under the configured data directory.
package codex
