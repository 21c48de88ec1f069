package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ReporTree runs the containerised ReporTree clustering tool over a metadata
// file and a cgMLST allele matrix.
type ReporTree struct {
	Image     string
	Analysis  string
	Method    string
	Threshold int

	// runCommand is swapped in tests to capture the docker invocation.
	runCommand func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewReporTree creates a runner with the pinned image and the grapetree
// MSTreeV2 parameters the dashboard expects.
func NewReporTree() *ReporTree {
	return &ReporTree{
		Image:     "insapathogenomics/reportree:v2.5.4",
		Analysis:  "grapetree",
		Method:    "MSTreeV2",
		Threshold: 9,
		runCommand: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			var out bytes.Buffer
			cmd := exec.CommandContext(ctx, name, args...)
			cmd.Stdout = &out
			cmd.Stderr = &out
			err := cmd.Run()
			return out.Bytes(), err
		},
	}
}

// Run mounts dir into the container and clusters the profile's samples.
// metadataPath and cgmlstPath must live inside dir; output files are written
// next to them, named after the profile.
func (r *ReporTree) Run(ctx context.Context, dir, metadataPath, cgmlstPath, profileName string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return eris.Wrap(err, "reportree: resolve output dir")
	}
	for _, p := range []string{metadataPath, cgmlstPath} {
		if _, err := os.Stat(p); err != nil {
			return eris.Wrapf(err, "reportree: input file %s", p)
		}
	}

	script := fmt.Sprintf(
		"reportree.py -m /data/%s -a /data/%s -out /data/%s --analysis %s --method %s -thr %d",
		filepath.Base(metadataPath), filepath.Base(cgmlstPath), profileName,
		r.Analysis, r.Method, r.Threshold,
	)
	args := []string{
		"run", "--rm",
		"-v", absDir + ":/data",
		r.Image,
		"bash", "-c", script,
	}

	zap.L().Info("running ReporTree",
		zap.String("profile", profileName),
		zap.String("image", r.Image))

	out, err := r.runCommand(ctx, "docker", args...)
	if err != nil {
		return eris.Wrapf(err, "reportree: %s failed: %s", profileName, string(out))
	}
	return nil
}

// OutputPaths returns the ReporTree artefact locations for a profile.
func OutputPaths(dir, profileName string) (partitions, clusters, distances, newick string) {
	partitions = filepath.Join(dir, profileName+"_metadata_w_partitions.tsv")
	clusters = filepath.Join(dir, profileName+"_clusterComposition.tsv")
	distances = filepath.Join(dir, profileName+"_dist_hamming.tsv")
	newick = filepath.Join(dir, profileName+".nwk")
	return partitions, clusters, distances, newick
}
