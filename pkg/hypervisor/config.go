package hypervisor

import (
	"regexp"

	"github.com/google/uuid"
)

// VMConfig holds the parameters of one hypervisor process.
type VMConfig struct {
	// Name is the instance name. The hypervisor UUID is derived from it.
	Name string

	// CPUs is the number of virtual CPUs.
	CPUs int

	// Memory is the memory size in hypervisor notation, e.g. "1G" or "512M".
	Memory string

	// DiskDevice is the attached block device, e.g. /dev/disk4.
	DiskDevice string

	// ConsoleIn is the path the serial console input pty is linked at.
	ConsoleIn string

	// ConsoleOut is the file the serial console output is logged to.
	ConsoleOut string

	// Kernel is the path to the Linux kernel image.
	Kernel string

	// Initrd is the path to the initial ramdisk.
	Initrd string

	// Cmdline is the kernel command line.
	Cmdline string
}

var memoryPattern = regexp.MustCompile(`^[1-9][0-9]*[KMGkmg]?$`)

// ValidMemory reports whether s is a memory size the hypervisor accepts.
func ValidMemory(s string) bool {
	return memoryPattern.MatchString(s)
}

// Validate performs basic validation of the configuration.
func (c *VMConfig) Validate() error {
	if c.Name == "" {
		return ErrMissingName
	}
	if c.CPUs < 1 {
		return ErrInvalidCPUCount
	}
	if !ValidMemory(c.Memory) {
		return ErrInvalidMemory
	}
	if c.DiskDevice == "" {
		return ErrMissingDisk
	}
	if c.ConsoleIn == "" || c.ConsoleOut == "" {
		return ErrMissingConsole
	}
	if c.Kernel == "" {
		return ErrMissingKernel
	}
	return nil
}

// UUID returns the deterministic hypervisor UUID for an instance name:
// a version 3 UUID in the OID namespace, so the guest sees the same
// machine identity every time the same name is started.
func UUID(name string) uuid.UUID {
	return uuid.NewMD5(uuid.NameSpaceOID, []byte(name))
}
