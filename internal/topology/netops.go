package topology

//
// Low-level network plumbing
//

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aqmlab/aqmbench/internal/shellx"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
)

// netnsRunDir is where iproute2 mounts named network namespaces.
const netnsRunDir = "/run/netns"

// NetOps abstracts the virtual-network plumbing so that tests can run
// without CAP_NET_ADMIN. The default implementation uses netlink
// directly, except for namespace creation and sysctls, which go
// through the ip and sysctl tools.
type NetOps interface {
	// CreateNamespace creates a named network namespace.
	CreateNamespace(ctx context.Context, name string) error

	// DeleteNamespace removes a named network namespace. Removing a
	// namespace that does not exist is not an error.
	DeleteNamespace(ctx context.Context, name string) error

	// ListNamespaces returns the existing named namespaces.
	ListNamespaces() ([]string, error)

	// CreateVethPair creates a veth pair with the given end names.
	CreateVethPair(name, peer string) error

	// CreateBridge creates a bridge and brings it up.
	CreateBridge(name string) error

	// AttachToBridge enslaves link to bridge and brings link up.
	AttachToBridge(link, bridge string) error

	// MoveToNamespace moves link into the named namespace.
	MoveToNamespace(link, namespace string) error

	// ConfigureAddress assigns cidr to link inside the namespace and
	// brings both the link and the loopback up.
	ConfigureAddress(namespace, link, cidr string) error

	// DeleteLink removes a link. Removing a link that does not exist
	// is not an error.
	DeleteLink(name string) error

	// SetNetemDelay installs a netem qdisc with the given one-way
	// delay as the root discipline of link.
	SetNetemDelay(link string, delay time.Duration) error

	// Sysctl writes a sysctl inside the namespace.
	Sysctl(ctx context.Context, namespace, key, value string) error
}

// netlinkOps is the [NetOps] implementation used in production.
type netlinkOps struct{}

// NewNetOps returns the netlink-backed [NetOps].
func NewNetOps() NetOps {
	return &netlinkOps{}
}

// CreateNamespace implements [NetOps]. We shell out to `ip netns add`
// instead of using netns.NewNamed because the latter switches the
// calling thread into the new namespace.
func (*netlinkOps) CreateNamespace(ctx context.Context, name string) error {
	return shellx.RunQuiet(ctx, "ip", "netns", "add", name)
}

// DeleteNamespace implements [NetOps].
func (*netlinkOps) DeleteNamespace(ctx context.Context, name string) error {
	if _, err := netns.GetFromName(name); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return netns.DeleteNamed(name)
}

// ListNamespaces implements [NetOps].
func (*netlinkOps) ListNamespaces() ([]string, error) {
	entries, err := os.ReadDir(netnsRunDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names, nil
}

// CreateVethPair implements [NetOps].
func (*netlinkOps) CreateVethPair(name, peer string) error {
	veth := &netlink.Veth{
		LinkAttrs: netlink.LinkAttrs{Name: name},
		PeerName:  peer,
	}
	return netlink.LinkAdd(veth)
}

// CreateBridge implements [NetOps].
func (*netlinkOps) CreateBridge(name string) error {
	bridge := &netlink.Bridge{
		LinkAttrs: netlink.LinkAttrs{Name: name},
	}
	if err := netlink.LinkAdd(bridge); err != nil {
		return err
	}
	return netlink.LinkSetUp(bridge)
}

// AttachToBridge implements [NetOps].
func (*netlinkOps) AttachToBridge(link, bridge string) error {
	l, err := netlink.LinkByName(link)
	if err != nil {
		return err
	}
	b, err := netlink.LinkByName(bridge)
	if err != nil {
		return err
	}
	if err := netlink.LinkSetMaster(l, b); err != nil {
		return err
	}
	return netlink.LinkSetUp(l)
}

// MoveToNamespace implements [NetOps].
func (*netlinkOps) MoveToNamespace(link, namespace string) error {
	nsh, err := netns.GetFromName(namespace)
	if err != nil {
		return err
	}
	defer nsh.Close()
	l, err := netlink.LinkByName(link)
	if err != nil {
		return err
	}
	return netlink.LinkSetNsFd(l, int(nsh))
}

// ConfigureAddress implements [NetOps].
func (*netlinkOps) ConfigureAddress(namespace, link, cidr string) error {
	nsh, err := netns.GetFromName(namespace)
	if err != nil {
		return err
	}
	defer nsh.Close()
	handle, err := netlink.NewHandleAt(nsh)
	if err != nil {
		return err
	}
	defer handle.Close()
	l, err := handle.LinkByName(link)
	if err != nil {
		return err
	}
	addr, err := netlink.ParseAddr(cidr)
	if err != nil {
		return err
	}
	if err := handle.AddrAdd(l, addr); err != nil {
		return err
	}
	if err := handle.LinkSetUp(l); err != nil {
		return err
	}
	lo, err := handle.LinkByName("lo")
	if err != nil {
		return err
	}
	return handle.LinkSetUp(lo)
}

// DeleteLink implements [NetOps].
func (*netlinkOps) DeleteLink(name string) error {
	l, err := netlink.LinkByName(name)
	if err != nil {
		var notFound netlink.LinkNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}
	return netlink.LinkDel(l)
}

// SetNetemDelay implements [NetOps].
func (*netlinkOps) SetNetemDelay(link string, delay time.Duration) error {
	l, err := netlink.LinkByName(link)
	if err != nil {
		return err
	}
	attrs := netlink.QdiscAttrs{
		LinkIndex: l.Attrs().Index,
		Handle:    netlink.MakeHandle(1, 0),
		Parent:    netlink.HANDLE_ROOT,
	}
	netem := netlink.NewNetem(attrs, netlink.NetemQdiscAttrs{
		Latency: uint32(delay / time.Microsecond),
	})
	return netlink.QdiscAdd(netem)
}

// Sysctl implements [NetOps].
func (*netlinkOps) Sysctl(ctx context.Context, namespace, key, value string) error {
	return shellx.RunQuiet(ctx, "ip", "netns", "exec", namespace,
		"sysctl", "-w", fmt.Sprintf("%s=%s", key, value))
}
