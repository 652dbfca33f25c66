// Package runtime manages containers backed by containerd.
//
// A [Runtime] connects to a containerd daemon and provides image import
// and container creation. OCI archives are imported, tagged with a
// deterministic content hash, unpacked for the target platform, and used
// to create containers with overlayfs snapshots.
//
// Each [Container] wraps a running containerd task. Commands can be
// executed inside the container under a chosen identity, files can be
// copied in and out as tar streams, and the filesystem state can be
// committed and exported as a new OCI archive at any point, which is how
// the build engine checkpoints completed steps. When the container is no
// longer needed it should be destroyed to release its snapshot and task
// resources.
//
// Example usage:
//
//	rt, err := runtime.New("/run/containerd/containerd.sock", "kiln")
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
//
//	ctr, err := rt.StartContainer(ctx, "image.tar", "build-1", "linux/amd64")
//	if err != nil {
//	    return err
//	}
//	defer ctr.Destroy(ctx)
//
//	result, err := ctr.Exec(ctx, runtime.ExecConfig{
//	    Shell:   "/bin/sh",
//	    Command: "echo hello",
//	})
//	if err != nil {
//	    return err
//	}
//
//	path, err := ctr.Export(ctx, "output", runtime.ImageConfig{
//	    Entrypoint: []string{"/entrypoint"},
//	})
//	if err != nil {
//	    return err
//	}
package runtime
