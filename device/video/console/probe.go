package console

import "github.com/mdgaziur/ferricoxide-os/kernel/hal/multiboot"

var getFramebufferInfoFn = multiboot.GetFramebufferInfo
