package codex

import (
	"context"
	"strconv"

	"github.com/aweris/codex-go/internal/native"
)

// Fetch retrieves a dataset from the network into the local repository and
// returns its manifest.
func (n *Node) Fetch(ctx context.Context, cid string) (Manifest, error) {
	const op = "storage_fetch"
	var m Manifest
	if err := checkCID(op, cid); err != nil {
		return m, err
	}
	err := n.getJSON(ctx, op, cidCall(native.Library.StorageFetch, cid), &m)
	return m, err
}

// Delete removes a dataset from the local repository.
func (n *Node) Delete(ctx context.Context, cid string) error {
	const op = "storage_delete"
	if err := checkCID(op, cid); err != nil {
		return err
	}
	_, err := n.do(ctx, op, nil, cidCall(native.Library.StorageDelete, cid))
	return err
}

// Exists reports whether the local repository holds cid.
func (n *Node) Exists(ctx context.Context, cid string) (bool, error) {
	const op = "storage_exists"
	if err := checkCID(op, cid); err != nil {
		return false, err
	}
	s, err := n.getString(ctx, op, cidCall(native.Library.StorageExists, cid))
	if err != nil {
		return false, err
	}
	exists, err := strconv.ParseBool(s)
	if err != nil {
		return false, decodeError(op, err)
	}
	return exists, nil
}

// List returns the manifests of all local datasets.
func (n *Node) List(ctx context.Context) ([]Manifest, error) {
	var list []Manifest
	err := n.getJSON(ctx, "storage_list", native.Library.StorageList, &list)
	return list, err
}

// Space reports repository usage.
func (n *Node) Space(ctx context.Context) (Space, error) {
	var s Space
	err := n.getJSON(ctx, "storage_space", native.Library.StorageSpace, &s)
	return s, err
}
