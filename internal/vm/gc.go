package vm

// Collect runs one mark-and-sweep cycle: mark every object reachable from
// the roots (globals, load path, every live frame's active registers, and
// transitively through map entries and function constants), then sweep the
// heap list, freeing anything left unmarked.
func (rt *Runtime) Collect() {
	rt.markRoots()
	rt.sweep()
	if rt.bytesAllocated < minGcThreshold {
		rt.nextGc = minGcThreshold
	} else {
		rt.nextGc = 2 * rt.bytesAllocated
	}
}

func (rt *Runtime) markRoots() {
	rt.markObject(rt.globals)
	rt.markObject(rt.loadPath)
	for i := range rt.frames {
		f := &rt.frames[i]
		for local := 0; local < f.stackSize; local++ {
			rt.markValue(rt.stack[f.stackBase+local])
		}
	}
	for _, v := range rt.tempRoots {
		rt.markValue(v)
	}
}

func (rt *Runtime) markValue(v Value) {
	if v.obj != nil {
		rt.markObject(v.obj)
	}
}

func (rt *Runtime) markObject(obj Object) {
	if obj == nil {
		return
	}
	h := obj.gcHeader()
	if h.marked {
		return
	}
	h.marked = true
	switch o := obj.(type) {
	case *Function:
		for _, c := range o.Constants {
			rt.markValue(c)
		}
	case *Map:
		for i := range o.keys {
			rt.markValue(o.keys[i])
			rt.markValue(o.values[i])
		}
	case *String, *NativeFunction:
		// no internal references
	}
}

func (rt *Runtime) sweep() {
	var prev Object
	obj := rt.heap
	for obj != nil {
		h := obj.gcHeader()
		next := h.next
		if h.marked {
			h.marked = false
			prev = obj
		} else {
			rt.destroy(obj)
			if prev == nil {
				rt.heap = next
			} else {
				prev.gcHeader().next = next
			}
		}
		obj = next
	}
}

// destroy releases an object's internal buffers and untracks its accounted
// bytes. The object itself becomes unreachable garbage for Go's own
// allocator once unlinked from the heap list.
func (rt *Runtime) destroy(obj Object) {
	rt.trackFree(sizeOfObject(obj))
	switch o := obj.(type) {
	case *String:
		buf, _ := rt.Host.Realloc(o.data, 0)
		o.data = buf
	case *Function, *NativeFunction, *Map:
		// nothing beyond Go-GC-managed slices/maps to release
	}
}
