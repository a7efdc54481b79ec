// Package gpio abstracts the digital lines drivers read and write.
//
// Two backends exist: Sim, an in-memory bank used off-device and in
// tests, and Sysfs, the kernel's /sys/class/gpio interface.
package gpio
