package codex

import (
	"bytes"
	"context"

	"github.com/aweris/codex-go/internal/mirror"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/sirupsen/logrus"
)

// Authenticator provides registry credentials for Export and Import.
type Authenticator = mirror.Authenticator

// StaticCredentials returns an Authenticator with fixed credentials.
func StaticCredentials(username, password string) Authenticator {
	return mirror.StaticAuthenticator{Username: username, Password: password}
}

// MirrorOptions configures Export and Import.
type MirrorOptions struct {
	// Auth defaults to the docker config keychain.
	Auth        Authenticator
	Concurrency int
	// Insecure allows plain HTTP registries.
	Insecure bool
	// Local restricts Export to datasets already in the repository.
	Local bool
}

// MirroredDataset maps an exported CID to the CID it got on import.
type MirroredDataset struct {
	Original string
	Cid      string
	Filename string
	Size     int64
}

func (o MirrorOptions) open(op, ref string) (*mirror.Mirror, error) {
	auth := o.Auth
	if auth == nil {
		auth = mirror.NewDefaultAuthenticator()
	}
	var nameOpts []name.Option
	if o.Insecure {
		nameOpts = append(nameOpts, name.Insecure)
	}
	m, err := mirror.New(ref, auth, nameOpts...)
	if err != nil {
		return nil, invalidParam(op, "ref", err.Error())
	}
	m.SetConcurrency(o.Concurrency)
	return m, nil
}

// Export downloads each dataset through the node and pushes them to the
// registry image ref.
func (n *Node) Export(ctx context.Context, ref string, cids []string, opts MirrorOptions) error {
	const op = "export"
	if len(cids) == 0 {
		return invalidParam(op, "cids", "at least one CID is required")
	}
	m, err := opts.open(op, ref)
	if err != nil {
		return err
	}

	datasets := make([]mirror.Dataset, 0, len(cids))
	for _, cid := range cids {
		if err := checkCID(op, cid); err != nil {
			return err
		}
		manifest, err := n.DownloadManifest(ctx, cid)
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if _, err := n.DownloadStream(ctx, cid, &buf, DownloadOptions{Local: opts.Local}); err != nil {
			return err
		}
		datasets = append(datasets, mirror.Dataset{
			Cid:      cid,
			Filename: manifest.Filename,
			Mimetype: manifest.Mimetype,
			Data:     buf.Bytes(),
		})
	}

	if _, err := m.Push(ctx, datasets); err != nil {
		return ioError(op, err)
	}
	n.st.log.WithFields(logrus.Fields{"ref": m.String(), "datasets": len(datasets)}).Info("Datasets exported")
	return nil
}

// Import pulls the registry image ref and uploads every dataset it carries.
func (n *Node) Import(ctx context.Context, ref string, opts MirrorOptions) ([]MirroredDataset, error) {
	const op = "import"
	m, err := opts.open(op, ref)
	if err != nil {
		return nil, err
	}

	datasets, err := m.Pull(ctx)
	if err != nil {
		return nil, ioError(op, err)
	}

	result := make([]MirroredDataset, 0, len(datasets))
	for _, ds := range datasets {
		cid, err := n.UploadReader(ctx, bytes.NewReader(ds.Data), UploadOptions{Filepath: ds.Filename})
		if err != nil {
			return result, err
		}
		result = append(result, MirroredDataset{
			Original: ds.Cid,
			Cid:      cid,
			Filename: ds.Filename,
			Size:     int64(len(ds.Data)),
		})
	}
	n.st.log.WithFields(logrus.Fields{"ref": m.String(), "datasets": len(result)}).Info("Datasets imported")
	return result, nil
}
