package usbstack

// candidateFromEnv 只接受 DEVTYPE=usb_device, 接口节点忽略
func candidateFromEnv(kobj string, env map[string]string) (Candidate, bool) {
	if env["DEVTYPE"] != "usb_device" {
		return Candidate{}, false
	}
	c := Candidate{Source: kobj}
	c.VendorID, c.ProductID, c.Err = ParseProduct(env["PRODUCT"])
	return c, true
}
