package net

import (
	"net"

	"github.com/golang/glog"
)

// OutgoingIP finds the address other machines on the LAN can reach this
// host at, for the share link.
func OutgoingIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		// no route to the internet; pick an interface instead
		return firstIPv4().String()
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}

// firstIPv4 returns the first IPv4 address of an interface that is up and
// not a loopback, or the loopback address if there is none.
func firstIPv4() net.IP {
	ifaces, err := net.Interfaces()
	if err != nil {
		glog.Infof("[net] list interfaces = %s\n", err)
		return net.IPv4(127, 0, 0, 1)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, _ := iface.Addrs()
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				return ipnet.IP.To4()
			}
		}
	}
	glog.Infof("[net] no LAN address found, share links will only work locally\n")
	return net.IPv4(127, 0, 0, 1)
}
